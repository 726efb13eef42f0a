package mempool

import (
	"testing"

	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/Hamza1s34/Qbitcoin/store"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
)

type signer struct {
	pub  []byte
	priv []byte
	addr crypto.Address
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generating key pair: %v", err)
	}
	return signer{pub: pub, priv: priv, addr: crypto.AddressOf(crypto.AddressVersionDevnet, pub)}
}

func buildTransfer(t *testing.T, s signer, fee, nonce uint64, outputs []ledger.Output) *txtypes.Transaction {
	t.Helper()
	tx := &txtypes.Transaction{
		Type:          txtypes.TypeTransfer,
		MasterAddress: s.addr,
		Fee:           fee,
		PublicKey:     s.pub,
		Nonce:         nonce,
		Payload:       &txtypes.Transfer{Outputs: outputs},
	}
	if err := tx.Sign(s.priv); err != nil {
		t.Fatalf("signing: %v", err)
	}
	return tx
}

func openTestStoreWithBalance(t *testing.T, addr crypto.Address, balance uint64) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	batch := store.NewBatch()
	batch.PutAccount(addr, ledger.AccountState{Balance: balance})
	if err := s.CommitBatch(batch); err != nil {
		t.Fatalf("seeding balance: %v", err)
	}
	return s
}

func TestAdmitAcceptsValidTransaction(t *testing.T) {
	params := config.DevnetParams
	s := newSigner(t)
	recipient := newSigner(t).addr
	backing := openTestStoreWithBalance(t, s.addr, 1000)
	pool := New(backing, &params, 1<<20, 0)

	tx := buildTransfer(t, s, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 100}})
	rec, err := pool.Admit(tx)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if rec.Hash != tx.ID() || rec.Type != txtypes.TypeTransfer {
		t.Fatalf("unexpected gossip record: %+v", rec)
	}
	if !pool.Has(tx.ID()) {
		t.Fatalf("admitted transaction not present")
	}
	if pool.Len() != 1 {
		t.Fatalf("pool length = %d, want 1", pool.Len())
	}
	hashes := pool.ByAddress(s.addr)
	if len(hashes) != 1 || hashes[0] != tx.ID() {
		t.Fatalf("address index mismatch: %+v", hashes)
	}
}

func TestAdmitRejectsInsufficientBalance(t *testing.T) {
	params := config.DevnetParams
	s := newSigner(t)
	recipient := newSigner(t).addr
	backing := openTestStoreWithBalance(t, s.addr, 5)
	pool := New(backing, &params, 1<<20, 0)

	tx := buildTransfer(t, s, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	if _, err := pool.Admit(tx); err != txtypes.ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if pool.Len() != 0 {
		t.Fatalf("rejected transaction should not be pooled")
	}
}

func TestAdmitRejectsDuplicate(t *testing.T) {
	params := config.DevnetParams
	s := newSigner(t)
	recipient := newSigner(t).addr
	backing := openTestStoreWithBalance(t, s.addr, 1000)
	pool := New(backing, &params, 1<<20, 0)

	tx := buildTransfer(t, s, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	if _, err := pool.Admit(tx); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if _, err := pool.Admit(tx); err != txtypes.ErrDuplicateTx {
		t.Fatalf("expected ErrDuplicateTx, got %v", err)
	}
}

func TestAdmitRejectsBelowMinFeeRate(t *testing.T) {
	params := config.DevnetParams
	s := newSigner(t)
	recipient := newSigner(t).addr
	backing := openTestStoreWithBalance(t, s.addr, 1000)
	pool := New(backing, &params, 1<<20, 1000000) // impossibly high min fee rate

	tx := buildTransfer(t, s, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	if _, err := pool.Admit(tx); err != ErrFeeTooLow {
		t.Fatalf("expected ErrFeeTooLow, got %v", err)
	}
}

func TestMempoolOverflowEvictsLowestFeeRate(t *testing.T) {
	params := config.DevnetParams

	lowFeeSigner := newSigner(t)
	highFeeSigner := newSigner(t)
	recipient := newSigner(t).addr

	backing := openTestStoreWithBalance(t, lowFeeSigner.addr, 1_000_000)
	seed := store.NewBatch()
	seed.PutAccount(highFeeSigner.addr, ledger.AccountState{Balance: 1_000_000})
	if err := backing.CommitBatch(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	lowTx := buildTransfer(t, lowFeeSigner, 1, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	size := encodedSize(lowTx)

	// Budget for exactly one transaction's worth of bytes.
	pool := New(backing, &params, size, 0)
	if _, err := pool.Admit(lowTx); err != nil {
		t.Fatalf("admitting low-fee tx: %v", err)
	}

	highTx := buildTransfer(t, highFeeSigner, 100, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	if _, err := pool.Admit(highTx); err != nil {
		t.Fatalf("admitting high-fee tx should evict the low-fee one: %v", err)
	}

	if pool.Has(lowTx.ID()) {
		t.Fatalf("low fee-rate transaction should have been evicted")
	}
	if !pool.Has(highTx.ID()) {
		t.Fatalf("high fee-rate transaction should be pooled")
	}
}

func TestMempoolOverflowRejectsWhenIncomingIsLowest(t *testing.T) {
	params := config.DevnetParams
	highFeeSigner := newSigner(t)
	lowFeeSigner := newSigner(t)
	recipient := newSigner(t).addr

	backing := openTestStoreWithBalance(t, highFeeSigner.addr, 1_000_000)
	seed := store.NewBatch()
	seed.PutAccount(lowFeeSigner.addr, ledger.AccountState{Balance: 1_000_000})
	if err := backing.CommitBatch(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	highTx := buildTransfer(t, highFeeSigner, 100, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	size := encodedSize(highTx)
	pool := New(backing, &params, size, 0)
	if _, err := pool.Admit(highTx); err != nil {
		t.Fatalf("admitting high-fee tx: %v", err)
	}

	lowTx := buildTransfer(t, lowFeeSigner, 1, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	if _, err := pool.Admit(lowTx); err != ErrMempoolFull {
		t.Fatalf("expected ErrMempoolFull when incoming tx is the lowest fee rate, got %v", err)
	}
	if !pool.Has(highTx.ID()) {
		t.Fatalf("existing high-fee transaction should not have been evicted")
	}
}

func TestRemoveConfirmedDropsIncludedTransactions(t *testing.T) {
	params := config.DevnetParams
	s := newSigner(t)
	recipient := newSigner(t).addr
	backing := openTestStoreWithBalance(t, s.addr, 1000)
	pool := New(backing, &params, 1<<20, 0)

	tx := buildTransfer(t, s, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	if _, err := pool.Admit(tx); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	pool.RemoveConfirmed([]*txtypes.Transaction{tx})
	if pool.Has(tx.ID()) {
		t.Fatalf("confirmed transaction should have been removed")
	}
}

func TestReevaluateDropsTransactionsInvalidatedByKeyReuse(t *testing.T) {
	params := config.DevnetParams
	s := newSigner(t)
	recipient := newSigner(t).addr
	backing := openTestStoreWithBalance(t, s.addr, 1000)
	pool := New(backing, &params, 1<<20, 0)

	tx := buildTransfer(t, s, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	if _, err := pool.Admit(tx); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	// Simulate tx's signing key having been spent by a block that just
	// committed, without tx itself being the included transaction (e.g. it
	// lost a tie on transaction ordering within that block).
	keyHash := crypto.Sum256(s.pub)
	committed := store.NewBatch()
	committed.PutAccount(s.addr, ledger.AccountState{
		Balance:  1000,
		UsedKeys: map[crypto.Hash]struct{}{keyHash: {}},
	})
	if err := backing.CommitBatch(committed); err != nil {
		t.Fatalf("committing conflicting state: %v", err)
	}

	pool.Reevaluate()
	if pool.Has(tx.ID()) {
		t.Fatalf("transaction with a reused signing key should be evicted on reevaluation")
	}
}

func TestDrainByFeeRateOrdersHighestFirst(t *testing.T) {
	params := config.DevnetParams
	low := newSigner(t)
	mid := newSigner(t)
	high := newSigner(t)
	recipient := newSigner(t).addr

	backing := openTestStoreWithBalance(t, low.addr, 1_000_000)
	seed := store.NewBatch()
	seed.PutAccount(mid.addr, ledger.AccountState{Balance: 1_000_000})
	seed.PutAccount(high.addr, ledger.AccountState{Balance: 1_000_000})
	if err := backing.CommitBatch(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	pool := New(backing, &params, 1<<20, 0)
	lowTx := buildTransfer(t, low, 1, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	midTx := buildTransfer(t, mid, 50, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	highTx := buildTransfer(t, high, 200, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	for _, tx := range []*txtypes.Transaction{lowTx, midTx, highTx} {
		if _, err := pool.Admit(tx); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	drained := pool.DrainByFeeRate(0)
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained transactions, got %d", len(drained))
	}
	if drained[0].ID() != highTx.ID() || drained[2].ID() != lowTx.ID() {
		t.Fatalf("drain not ordered highest-to-lowest fee rate")
	}
}
