package codec

import (
	"bytes"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Uint8(7).Bool(true).Uint16(1234).Uint32(567890).Uint64(1 << 40).
		Int64(-42).FixedBytes([]byte{0xde, 0xad}).VarBytes([]byte("hello world"))

	r := NewReader(w.Bytes())
	if v := r.Uint8(); v != 7 {
		t.Fatalf("Uint8 = %d, want 7", v)
	}
	if v := r.Bool(); v != true {
		t.Fatalf("Bool = %v, want true", v)
	}
	if v := r.Uint16(); v != 1234 {
		t.Fatalf("Uint16 = %d, want 1234", v)
	}
	if v := r.Uint32(); v != 567890 {
		t.Fatalf("Uint32 = %d, want 567890", v)
	}
	if v := r.Uint64(); v != 1<<40 {
		t.Fatalf("Uint64 = %d, want %d", v, 1<<40)
	}
	if v := r.Int64(); v != -42 {
		t.Fatalf("Int64 = %d, want -42", v)
	}
	if v := r.FixedBytes(2); !bytes.Equal(v, []byte{0xde, 0xad}) {
		t.Fatalf("FixedBytes = %x", v)
	}
	if v := r.VarBytes(); string(v) != "hello world" {
		t.Fatalf("VarBytes = %q", v)
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestReaderRejectsTruncatedInput(t *testing.T) {
	r := NewReader([]byte{0x00, 0x01})
	r.Uint32()
	if r.Err() == nil {
		t.Fatal("expected ErrMalformed on truncated input")
	}
}

func TestReaderRejectsTrailingGarbage(t *testing.T) {
	w := NewWriter()
	w.Uint8(1)
	data := append(w.Bytes(), 0xff)
	r := NewReader(data)
	r.Uint8()
	if err := r.Finish(); err == nil {
		t.Fatal("expected Finish to reject trailing bytes")
	}
}

func TestReaderRejectsOversizedVarBytes(t *testing.T) {
	w := NewWriter()
	w.Uint32(MaxVarBytesLen + 1)
	r := NewReader(w.Bytes())
	r.VarBytes()
	if r.Err() == nil {
		t.Fatal("expected oversized length prefix to be rejected")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a serialized block goes here")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	if _, err := ReadFrame(&buf); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}
