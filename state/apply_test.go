package state

import (
	"math/big"
	"testing"

	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/Hamza1s34/Qbitcoin/store"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
)

func bigZero() *big.Int { return big.NewInt(0) }

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

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApplyTransactionSuccessMutatesView(t *testing.T) {
	params := config.DevnetParams
	s := newSigner(t)
	recipient := newSigner(t).addr
	backing := openTestStore(t)
	overlay := New(backing, 1, 1000)
	overlay.PutAccount(s.addr, ledger.AccountState{Balance: 1000})

	tx := buildTransfer(t, s, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 500}})
	ctx := &txtypes.Context{BlockHeight: 1, BlockTimestamp: 1000}
	if err := ApplyTransaction(overlay, tx, &params, ctx); err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}

	if got := overlay.GetAccount(s.addr).Balance; got != 490 {
		t.Fatalf("sender balance = %d, want 490", got)
	}
	if got := overlay.GetAccount(recipient).Balance; got != 500 {
		t.Fatalf("recipient balance = %d, want 500", got)
	}
}

func TestApplyTransactionFailureLeavesViewUntouched(t *testing.T) {
	params := config.DevnetParams
	s := newSigner(t)
	recipient := newSigner(t).addr
	backing := openTestStore(t)
	overlay := New(backing, 1, 1000)
	overlay.PutAccount(s.addr, ledger.AccountState{Balance: 5})

	tx := buildTransfer(t, s, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 1}})
	ctx := &txtypes.Context{BlockHeight: 1}
	if err := ApplyTransaction(overlay, tx, &params, ctx); err == nil {
		t.Fatalf("expected insufficient-balance transaction to fail")
	}

	if got := overlay.GetAccount(s.addr).Balance; got != 5 {
		t.Fatalf("sender balance mutated on failed transaction: got %d, want 5", got)
	}
	if got := overlay.GetAccount(s.addr).Nonce; got != 0 {
		t.Fatalf("sender nonce advanced on failed transaction: got %d", got)
	}
	if _, ok, _ := backing.GetAccount(recipient); ok {
		t.Fatalf("recipient should not exist after failed transaction")
	}
}

func coinbaseTx(recipient crypto.Address, amount uint64) *txtypes.Transaction {
	return &txtypes.Transaction{Type: txtypes.TypeCoinbase, Payload: &txtypes.Coinbase{Recipient: recipient, Amount: amount}}
}

func buildSimpleBlock(t *testing.T, prevHash crypto.Hash, height uint64, timestamp int64, miner crypto.Address, subsidy uint64, txs []*txtypes.Transaction) *block.Block {
	t.Helper()
	var feeSum uint64
	for _, tx := range txs {
		feeSum += tx.Fee
	}
	all := append([]*txtypes.Transaction{coinbaseTx(miner, subsidy+feeSum)}, txs...)
	h := block.Header{
		PrevHash:    prevHash,
		BlockNumber: height,
		Timestamp:   timestamp,
		MerkleRoot:  block.MerkleRoot(all),
		Bits:        0,
		Reward:      subsidy,
	}
	return &block.Block{Header: h, Transactions: all}
}

// commitOverlay is the wiring the chain manager is expected to do: stage the
// overlay's dirty records, its write-set, and block-index bookkeeping into
// one atomic batch.
func commitOverlay(t *testing.T, backing *store.Store, blk *block.Block, overlay *Overlay) crypto.Hash {
	t.Helper()
	hash := blk.Header.Hash()
	batch := store.NewBatch()
	overlay.StageInto(batch)
	batch.PutWriteSet(hash, overlay.WriteSet())
	batch.PutBlockMeta(hash, store.BlockMetaData{
		ParentHash:           blk.Header.PrevHash,
		BlockNumber:          blk.Header.BlockNumber,
		Bits:                 blk.Header.Bits,
		CumulativeDifficulty: bigZero(),
		Status:               store.StatusValid,
	})
	batch.PutHeightIndex(blk.Header.BlockNumber, hash)
	batch.PutChainTip(hash)
	if err := backing.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}
	return hash
}

func TestApplyBlockCreditsCoinbaseAndTransfers(t *testing.T) {
	params := config.DevnetParams
	backing := openTestStore(t)
	miner := newSigner(t).addr
	sender := newSigner(t)
	recipient := newSigner(t).addr

	// Seed the sender's pre-block balance directly into the store, as if a
	// prior block had already credited it.
	seed := store.NewBatch()
	seed.PutAccount(sender.addr, ledger.AccountState{Balance: 1000})
	if err := backing.CommitBatch(seed); err != nil {
		t.Fatalf("seeding sender balance: %v", err)
	}

	transfer := buildTransfer(t, sender, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 500}})
	blk := buildSimpleBlock(t, crypto.Hash{}, 1, 1000, miner, 5000000000, []*txtypes.Transaction{transfer})

	overlay, err := ApplyBlock(backing, blk, &params, 5000000000)
	if err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	if got := overlay.GetAccount(miner).Balance; got != 5000000010 {
		t.Fatalf("miner balance = %d, want subsidy+fee 5000000010", got)
	}
	if got := overlay.GetAccount(sender.addr).Balance; got != 490 {
		t.Fatalf("sender balance = %d, want 490", got)
	}
	if got := overlay.GetAccount(recipient).Balance; got != 500 {
		t.Fatalf("recipient balance = %d, want 500", got)
	}

	// Nothing should have reached the backing store until committed.
	if _, ok, _ := backing.GetAccount(recipient); ok {
		t.Fatalf("ApplyBlock must not write through to backing before commit")
	}
}

func TestApplyBlockRejectsFailingTransaction(t *testing.T) {
	params := config.DevnetParams
	backing := openTestStore(t)
	miner := newSigner(t).addr
	sender := newSigner(t)
	recipient := newSigner(t).addr

	// Sender has no funds: the transfer must fail and the whole block with it.
	transfer := buildTransfer(t, sender, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 500}})
	blk := buildSimpleBlock(t, crypto.Hash{}, 1, 1000, miner, 5000000000, []*txtypes.Transaction{transfer})

	if _, err := ApplyBlock(backing, blk, &params, 5000000000); err == nil {
		t.Fatalf("expected ApplyBlock to reject a block with a failing transaction")
	}
}

func TestRevertBlockExactlyInvertsApplyBlock(t *testing.T) {
	params := config.DevnetParams
	backing := openTestStore(t)
	miner := newSigner(t).addr
	sender := newSigner(t)
	recipient := newSigner(t).addr

	seed := store.NewBatch()
	seed.PutAccount(sender.addr, ledger.AccountState{Balance: 1000})
	if err := backing.CommitBatch(seed); err != nil {
		t.Fatalf("seeding sender balance: %v", err)
	}
	preSender, _, _ := backing.GetAccount(sender.addr)
	_, minerExistedBefore, _ := backing.GetAccount(miner)
	_, recipientExistedBefore, _ := backing.GetAccount(recipient)

	transfer := buildTransfer(t, sender, 10, 0, []ledger.Output{{Recipient: recipient, Amount: 500}})
	blk := buildSimpleBlock(t, crypto.Hash{}, 1, 1000, miner, 5000000000, []*txtypes.Transaction{transfer})

	overlay, err := ApplyBlock(backing, blk, &params, 5000000000)
	if err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	hash := commitOverlay(t, backing, blk, overlay)

	// Sanity: the commit actually landed.
	if got, _, _ := backing.GetAccount(recipient); got.Balance != 500 {
		t.Fatalf("commit did not land, recipient balance = %d", got.Balance)
	}

	if err := RevertBlock(backing, hash); err != nil {
		t.Fatalf("RevertBlock: %v", err)
	}

	gotSender, senderOK, _ := backing.GetAccount(sender.addr)
	if !senderOK || gotSender.Balance != preSender.Balance || gotSender.Nonce != preSender.Nonce {
		t.Fatalf("sender account not restored: got %+v, want %+v", gotSender, preSender)
	}
	if _, ok, _ := backing.GetAccount(recipient); ok != recipientExistedBefore {
		t.Fatalf("recipient existence not reverted: ok=%v, want %v", ok, recipientExistedBefore)
	}
	if _, ok, _ := backing.GetAccount(miner); ok != minerExistedBefore {
		t.Fatalf("miner existence not reverted: ok=%v, want %v", ok, minerExistedBefore)
	}
	if _, ok, err := backing.WriteSet(hash); err != nil || ok {
		t.Fatalf("write-set should be consumed after revert: ok=%v err=%v", ok, err)
	}
}

func TestRevertBlockWithoutWriteSetFails(t *testing.T) {
	backing := openTestStore(t)
	if err := RevertBlock(backing, crypto.Sum256([]byte("nonexistent"))); err != ErrNoWriteSet {
		t.Fatalf("expected ErrNoWriteSet, got %v", err)
	}
}

func TestOverlayReadsFallThroughToBacking(t *testing.T) {
	backing := openTestStore(t)
	addr := newSigner(t).addr
	seed := store.NewBatch()
	seed.PutAccount(addr, ledger.AccountState{Balance: 42})
	if err := backing.CommitBatch(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	overlay := New(backing, 1, 1)
	if got := overlay.GetAccount(addr).Balance; got != 42 {
		t.Fatalf("overlay did not read through to backing: got %d", got)
	}
}

func TestOverlayWriteSetCapturesFirstTouchOnly(t *testing.T) {
	backing := openTestStore(t)
	addr := newSigner(t).addr
	seed := store.NewBatch()
	seed.PutAccount(addr, ledger.AccountState{Balance: 100})
	if err := backing.CommitBatch(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	overlay := New(backing, 1, 1)
	overlay.PutAccount(addr, ledger.AccountState{Balance: 200})
	overlay.PutAccount(addr, ledger.AccountState{Balance: 300})

	ws := overlay.WriteSet()
	if len(ws) != 1 {
		t.Fatalf("expected exactly one write-set entry for repeated writes to the same key, got %d", len(ws))
	}
	if !ws[0].HadValue {
		t.Fatalf("expected write-set to record that the key had a prior value")
	}
}
