package p2p

import (
	"bytes"
	"testing"

	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
)

func TestEnvelopeRoundTripsVersionMsg(t *testing.T) {
	var buf bytes.Buffer
	want := &VersionMsg{
		ProtocolVersion: ProtocolVersion,
		GenesisHash:     crypto.Sum256([]byte("genesis")),
		ListenPort:      8433,
		DeclaredRateCap: 1 << 20,
		UserAgent:       "qbitcoind/test",
	}
	if err := WriteEnvelope(&buf, want); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	gotV, ok := got.(*VersionMsg)
	if !ok {
		t.Fatalf("decoded payload is %T, want *VersionMsg", got)
	}
	if *gotV != *want {
		t.Fatalf("round trip mismatch: got %+v want %+v", gotV, want)
	}
}

func TestEnvelopeRoundTripsHeaderHashes(t *testing.T) {
	var buf bytes.Buffer
	want := &HeaderHashesMsg{
		StartHeight: 100,
		Hashes:      []crypto.Hash{crypto.Sum256([]byte("a")), crypto.Sum256([]byte("b"))},
	}
	if err := WriteEnvelope(&buf, want); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	gotH := got.(*HeaderHashesMsg)
	if gotH.StartHeight != want.StartHeight || len(gotH.Hashes) != len(want.Hashes) {
		t.Fatalf("round trip mismatch: got %+v want %+v", gotH, want)
	}
	for i := range want.Hashes {
		if gotH.Hashes[i] != want.Hashes[i] {
			t.Fatalf("hash %d mismatch: got %s want %s", i, gotH.Hashes[i], want.Hashes[i])
		}
	}
}

func TestTxMsgFuncCodeDerivesFromTransactionType(t *testing.T) {
	cases := []struct {
		typ  txtypes.Type
		want FuncCode
	}{
		{txtypes.TypeTransfer, FuncTxTransfer},
		{txtypes.TypeMessage, FuncTxMessage},
		{txtypes.TypeTokenCreate, FuncTxTokenCreate},
		{txtypes.TypeTokenTransfer, FuncTxTokenTransfer},
		{txtypes.TypeSlave, FuncTxSlave},
		{txtypes.TypeMultiSigCreate, FuncTxMultiSigCreate},
		{txtypes.TypeMultiSigSpend, FuncTxMultiSigSpend},
		{txtypes.TypeMultiSigVote, FuncTxMultiSigVote},
		{txtypes.TypeCoinbase, FuncTxReserved},
	}
	for _, c := range cases {
		m := &TxMsg{Tx: &txtypes.Transaction{Type: c.typ}}
		if got := m.FuncCode(); got != c.want {
			t.Errorf("type %v: FuncCode() = %v, want %v", c.typ, got, c.want)
		}
	}
}

func TestReadEnvelopeRejectsUnknownFuncCode(t *testing.T) {
	var buf bytes.Buffer
	ack := &AckMsg{TotalBytesReceived: 5}
	if err := WriteEnvelope(&buf, ack); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	raw := buf.Bytes()
	// Corrupt the function-code byte (first byte after the 4-byte length
	// prefix) to a code nothing registers a factory for.
	raw[4] = 0xfe
	if _, err := ReadEnvelope(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected ReadEnvelope to reject an unrecognized function code")
	}
}

func TestReadEnvelopeRejectsOversizedLength(t *testing.T) {
	var header [4]byte
	header[0] = 0xff // length far exceeding MaxEnvelopeLen
	if _, err := ReadEnvelope(bytes.NewReader(header[:])); err == nil {
		t.Fatal("expected ReadEnvelope to reject an oversized envelope length")
	}
}
