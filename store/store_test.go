package store

import (
	"math/big"
	"testing"

	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
)

func testAddress(t *testing.T, seed string) crypto.Address {
	t.Helper()
	return crypto.AddressFromDigest(crypto.AddressVersionDevnet, crypto.Sum256([]byte(seed)))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetAccountAbsentReturnsNotOK(t *testing.T) {
	s := openTestStore(t)
	addr := testAddress(t, "nobody")
	_, ok, err := s.GetAccount(addr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if ok {
		t.Fatalf("expected absent account to report ok=false")
	}
}

func TestPutGetAccountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	addr := testAddress(t, "alice")
	keyHash := crypto.Sum256([]byte("pubkey"))
	acc := ledger.AccountState{
		Balance:       12345,
		Nonce:         3,
		TokenBalances: map[crypto.Hash]uint64{crypto.Sum256([]byte("token")): 500},
		UsedKeys:      map[crypto.Hash]struct{}{keyHash: {}},
		DelegatedKeys: map[crypto.Hash]ledger.AccessType{keyHash: ledger.AccessAll},
	}

	batch := NewBatch()
	batch.PutAccount(addr, acc)
	if err := s.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	got, ok, err := s.GetAccount(addr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !ok {
		t.Fatalf("expected account to be found")
	}
	if got.Balance != acc.Balance || got.Nonce != acc.Nonce {
		t.Fatalf("balance/nonce mismatch: got %+v", got)
	}
	if !got.HasUsedKey(keyHash) {
		t.Fatalf("used key not preserved")
	}
	if !got.DelegatedKeys[keyHash].Has(ledger.AccessAll) {
		t.Fatalf("delegated access not preserved")
	}
}

func TestChainTipRoundTrip(t *testing.T) {
	s := openTestStore(t)
	hash := crypto.Sum256([]byte("tip"))

	if _, ok, err := s.ChainTip(); err != nil || ok {
		t.Fatalf("expected no tip on fresh store, ok=%v err=%v", ok, err)
	}

	batch := NewBatch()
	batch.PutChainTip(hash)
	if err := s.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	got, ok, err := s.ChainTip()
	if err != nil || !ok {
		t.Fatalf("ChainTip: ok=%v err=%v", ok, err)
	}
	if got != hash {
		t.Fatalf("chain tip mismatch")
	}
}

func TestBlockMetaAndHeightIndexRoundTrip(t *testing.T) {
	s := openTestStore(t)
	hash := crypto.Sum256([]byte("block-1"))
	meta := BlockMetaData{
		ParentHash:           crypto.Sum256([]byte("genesis")),
		BlockNumber:          1,
		Bits:                 0x1e0fffff,
		CumulativeDifficulty: big.NewInt(1000),
		Status:               StatusValid,
	}

	batch := NewBatch()
	batch.PutBlockMeta(hash, meta)
	batch.PutHeightIndex(1, hash)
	if err := s.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	got, ok, err := s.BlockMeta(hash)
	if err != nil || !ok {
		t.Fatalf("BlockMeta: ok=%v err=%v", ok, err)
	}
	if got.BlockNumber != 1 || got.CumulativeDifficulty.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("block meta mismatch: %+v", got)
	}

	gotHash, ok, err := s.HeaderHashAtHeight(1)
	if err != nil || !ok {
		t.Fatalf("HeaderHashAtHeight: ok=%v err=%v", ok, err)
	}
	if gotHash != hash {
		t.Fatalf("height index mismatch")
	}
}

func TestWriteSetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	hash := crypto.Sum256([]byte("block-2"))
	entries := []WriteSetEntry{
		{Key: []byte("k1"), HadValue: true, PriorValue: []byte("old")},
		{Key: []byte("k2"), HadValue: false},
	}

	batch := NewBatch()
	batch.PutWriteSet(hash, entries)
	if err := s.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	got, ok, err := s.WriteSet(hash)
	if err != nil || !ok {
		t.Fatalf("WriteSet: ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || string(got[0].PriorValue) != "old" || got[1].HadValue {
		t.Fatalf("write set mismatch: %+v", got)
	}
}

func TestForkStateRoundTripAndClear(t *testing.T) {
	s := openTestStore(t)
	f := ForkState{
		Initiator: crypto.Sum256([]byte("peer")),
		ForkPoint: crypto.Sum256([]byte("ancestor")),
		OldPath:   []crypto.Hash{crypto.Sum256([]byte("old1"))},
		NewPath:   []crypto.Hash{crypto.Sum256([]byte("new1")), crypto.Sum256([]byte("new2"))},
	}

	batch := NewBatch()
	batch.PutForkState(f)
	if err := s.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	got, ok, err := s.GetForkState()
	if err != nil || !ok {
		t.Fatalf("GetForkState: ok=%v err=%v", ok, err)
	}
	if len(got.NewPath) != 2 || got.ForkPoint != f.ForkPoint {
		t.Fatalf("fork state mismatch: %+v", got)
	}

	clear := NewBatch()
	clear.ClearForkState()
	if err := s.CommitBatch(clear); err != nil {
		t.Fatalf("CommitBatch clear: %v", err)
	}
	if _, ok, err := s.GetForkState(); err != nil || ok {
		t.Fatalf("expected fork state cleared, ok=%v err=%v", ok, err)
	}
}

func TestAppendAndReadBlockBytes(t *testing.T) {
	s := openTestStore(t)
	data := []byte("canonical block encoding")
	loc, err := s.AppendBlockBytes(data)
	if err != nil {
		t.Fatalf("AppendBlockBytes: %v", err)
	}
	got, err := s.ReadBlockBytes(loc)
	if err != nil {
		t.Fatalf("ReadBlockBytes: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round trip mismatch: got %q want %q", got, data)
	}
}

func TestMultiSigMetaAndSpendRoundTrip(t *testing.T) {
	s := openTestStore(t)
	msAddr := testAddress(t, "multisig")
	signer1 := testAddress(t, "signer1")
	meta := ledger.MultiSigMeta{
		CreationTxHash: crypto.Sum256([]byte("create-tx")),
		Signatories:    []crypto.Address{signer1},
		Weights:        []uint32{1},
		Threshold:      1,
	}
	spendHash := crypto.Sum256([]byte("spend-tx"))
	spend := ledger.MultiSigSpendState{
		MultiSigAddress: msAddr,
		Outputs:         []ledger.Output{{Recipient: signer1, Amount: 100}},
		ExpiryHeight:    50,
		Votes:           map[crypto.Address]bool{signer1: true},
	}

	batch := NewBatch()
	batch.PutMultiSigMeta(msAddr, meta)
	batch.PutMultiSigSpend(spendHash, spend)
	if err := s.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	gotMeta, ok, err := s.GetMultiSigMeta(msAddr)
	if err != nil || !ok {
		t.Fatalf("GetMultiSigMeta: ok=%v err=%v", ok, err)
	}
	if gotMeta.Threshold != 1 || len(gotMeta.Signatories) != 1 {
		t.Fatalf("multisig meta mismatch: %+v", gotMeta)
	}

	gotSpend, ok, err := s.GetMultiSigSpend(spendHash)
	if err != nil || !ok {
		t.Fatalf("GetMultiSigSpend: ok=%v err=%v", ok, err)
	}
	if gotSpend.ExpiryHeight != 50 || !gotSpend.Votes[signer1] {
		t.Fatalf("multisig spend mismatch: %+v", gotSpend)
	}
}
