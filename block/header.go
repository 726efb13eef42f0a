// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package block implements the block data model: header layout, merkle
// root computation, the subsidy schedule, and the proof-of-work target
// mapping (spec.md 4.6). Header validation order and field layout are
// grounded on the teacher's single-parent block header, generalized from
// a DAG's multi-parent list back to a single previous-header hash since
// this chain is not a DAG.
package block

import (
	"github.com/Hamza1s34/Qbitcoin/codec"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
	"github.com/pkg/errors"
)

// Header is the fixed-size, signable part of a block (spec.md 4.6).
type Header struct {
	PrevHash    crypto.Hash
	BlockNumber uint64
	Timestamp   int64
	MerkleRoot  crypto.Hash
	Bits        uint32
	Nonce       uint64
	ExtraNonce  uint64
	Reward      uint64 // recorded block subsidy, for audit without replaying history
	FeeSum      uint64 // recorded sum of included transaction fees
}

// Encode writes the canonical header bytes (spec.md 4.2, 4.6).
func (h *Header) Encode(w *codec.Writer) {
	w.FixedBytes(h.PrevHash[:])
	w.Uint64(h.BlockNumber)
	w.Int64(h.Timestamp)
	w.FixedBytes(h.MerkleRoot[:])
	w.Uint32(h.Bits)
	w.Uint64(h.Nonce)
	w.Uint64(h.ExtraNonce)
	w.Uint64(h.Reward)
	w.Uint64(h.FeeSum)
}

// DecodeHeader reads a Header, failing closed on any violation.
func DecodeHeader(r *codec.Reader) (*Header, error) {
	h := &Header{}
	prevHash := r.FixedBytes(crypto.HashSize)
	h.BlockNumber = r.Uint64()
	h.Timestamp = r.Int64()
	merkleRoot := r.FixedBytes(crypto.HashSize)
	h.Bits = r.Uint32()
	h.Nonce = r.Uint64()
	h.ExtraNonce = r.Uint64()
	h.Reward = r.Uint64()
	h.FeeSum = r.Uint64()
	if r.Err() != nil {
		return nil, codec.ErrMalformed
	}
	copy(h.PrevHash[:], prevHash)
	copy(h.MerkleRoot[:], merkleRoot)
	return h, nil
}

// Hash computes the header's content hash, the quantity proof-of-work
// searches against and the identifier blocks and chain indices key off of
// (spec.md 4.6: "header hash includes the mining nonce and extra nonce").
func (h *Header) Hash() crypto.Hash {
	w := codec.NewWriter()
	h.Encode(w)
	return crypto.Sum256(w.Bytes())
}

// Block pairs a header with its ordered transaction list; transaction 0 is
// always the coinbase (spec.md 3, 4.6).
type Block struct {
	Header       Header
	Transactions []*txtypes.Transaction
}

// Encode writes the canonical block bytes.
func (b *Block) Encode(w *codec.Writer) {
	b.Header.Encode(w)
	w.Uint32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		tx.Encode(w)
	}
}

// Decode reads a Block, failing closed on any violation.
func Decode(r *codec.Reader) (*Block, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	n := r.Uint32()
	if r.Err() != nil {
		return nil, codec.ErrMalformed
	}
	txs := make([]*txtypes.Transaction, 0, n)
	for i := uint32(0); i < n; i++ {
		tx, err := txtypes.Decode(r)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding transaction %d", i)
		}
		txs = append(txs, tx)
	}
	return &Block{Header: *h, Transactions: txs}, nil
}
