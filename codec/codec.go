// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package codec implements the canonical binary framing used for every
// on-wire and on-disk record in the node (spec.md 4.2): fixed field order,
// big-endian fixed-width integers, length-prefixed variable byte fields, no
// optional whitespace. decode(encode(x)) == x for every valid record;
// encode is total, decode fails with ErrMalformed on any violation.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrMalformed is returned by any Reader method that cannot satisfy its
// contract from the remaining bytes. Per spec.md 7 it is always safe to
// discard the record and, for a P2P-sourced record, to ban the sender.
var ErrMalformed = errors.New("malformed")

// MaxVarBytesLen bounds a single length-prefixed byte field to guard against
// a hostile length prefix forcing a huge allocation before validation.
const MaxVarBytesLen = 32 * 1024 * 1024

// Writer accumulates a canonically-encoded record.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Uint8 appends a single byte.
func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// Bool appends a single byte, 1 for true and 0 for false.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Uint8(1)
	}
	return w.Uint8(0)
}

// Uint16 appends v as 2 big-endian bytes.
func (w *Writer) Uint16(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Uint32 appends v as 4 big-endian bytes.
func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Uint64 appends v as 8 big-endian bytes.
func (w *Writer) Uint64(v uint64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Int64 appends v as 8 big-endian bytes (used for UTC-second timestamps).
func (w *Writer) Int64(v int64) *Writer {
	return w.Uint64(uint64(v))
}

// FixedBytes appends raw bytes with no length prefix; used for fields whose
// length is fixed and implicit in the record layout (hashes, addresses,
// signatures of a known scheme).
func (w *Writer) FixedBytes(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// VarBytes appends a 4-byte big-endian length prefix followed by b.
func (w *Writer) VarBytes(b []byte) *Writer {
	w.Uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// VarString appends s as a VarBytes field.
func (w *Writer) VarString(s string) *Writer {
	return w.VarBytes([]byte(s))
}

// Reader consumes a canonically-encoded record, failing closed on any
// malformed input.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader wraps data for sequential decoding.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Err returns the first error encountered during decoding, if any.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of bytes not yet consumed.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) fail() {
	if r.err == nil {
		r.err = ErrMalformed
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.fail()
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a single byte, failing if it is neither 0 nor 1.
func (r *Reader) Bool() bool {
	v := r.Uint8()
	if r.err != nil {
		return false
	}
	switch v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail()
		return false
	}
}

// Uint16 reads 2 big-endian bytes.
func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// Uint32 reads 4 big-endian bytes.
func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Uint64 reads 8 big-endian bytes.
func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Int64 reads 8 big-endian bytes as a signed integer.
func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// FixedBytes reads exactly n raw bytes.
func (r *Reader) FixedBytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// VarBytes reads a 4-byte big-endian length prefix followed by that many
// bytes, rejecting lengths beyond MaxVarBytesLen or the remaining buffer.
func (r *Reader) VarBytes() []byte {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if n > MaxVarBytesLen || int(n) > r.Remaining() {
		r.fail()
		return nil
	}
	return r.FixedBytes(int(n))
}

// VarString reads a VarBytes field as a string.
func (r *Reader) VarString() string {
	b := r.VarBytes()
	if b == nil {
		return ""
	}
	return string(b)
}

// Finish reports ErrMalformed if any bytes remain unconsumed, enforcing
// that decode rejects trailing garbage.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.Remaining() != 0 {
		return ErrMalformed
	}
	return nil
}

// CheckAmount validates that a declared monetary amount is representable and
// non-negative-by-construction (amounts are unsigned on the wire, so this
// only guards against the sentinel max value being used to signal overflow
// upstream).
func CheckAmount(v uint64) error {
	if v == math.MaxUint64 {
		return errors.Wrap(ErrMalformed, "amount overflow sentinel")
	}
	return nil
}
