package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// BlockFileMagic is the 4-byte magic prefixing every record appended to a
// block file (spec.md 6, on-disk layout).
const BlockFileMagic uint32 = 0xd9b4bef9

// MaxFrameLen bounds a single on-disk frame payload.
const MaxFrameLen = 64 * 1024 * 1024

// ErrBadMagic is returned when a block file frame's magic does not match
// BlockFileMagic; this indicates truncation or corruption (spec.md 4.3
// Recovery).
var ErrBadMagic = errors.New("bad block file magic")

// WriteFrame writes magic || 4-byte-BE-length || payload to w, the framing
// used by the append-only block files.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], BlockFileMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one magic-prefixed, length-prefixed payload from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint32(header[0:4])
	if magic != BlockFileMagic {
		return nil, ErrBadMagic
	}
	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxFrameLen {
		return nil, errors.Wrap(ErrMalformed, "frame length exceeds maximum")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// FrameHeaderLen is the number of bytes WriteFrame prepends before payload.
const FrameHeaderLen = 8
