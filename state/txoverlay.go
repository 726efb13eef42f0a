package state

import (
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
)

// txOverlay is a copy-on-write child of a parent ledger.AccountView, scoped
// to one transaction's application. A transaction's StateValidateAndApply
// mutates several accounts across several steps (key-use mark, nonce
// advance, payload effects) before it can fail; running those mutations
// against a txOverlay and merging into the parent only on success keeps a
// rejected transaction from leaving partial state behind, without needing
// the parent Overlay's write-set capture to understand per-transaction
// rollback at all (spec.md 4.4 "apply_transaction ... must be atomic").
type txOverlay struct {
	parent ledger.AccountView

	accounts       map[crypto.Address]ledger.AccountState
	tokens         map[crypto.Hash]ledger.TokenMeta
	multiSigMeta   map[crypto.Address]ledger.MultiSigMeta
	multiSigSpends map[crypto.Hash]ledger.MultiSigSpendState
}

func newTxOverlay(parent ledger.AccountView) *txOverlay {
	return &txOverlay{
		parent:         parent,
		accounts:       make(map[crypto.Address]ledger.AccountState),
		tokens:         make(map[crypto.Hash]ledger.TokenMeta),
		multiSigMeta:   make(map[crypto.Address]ledger.MultiSigMeta),
		multiSigSpends: make(map[crypto.Hash]ledger.MultiSigSpendState),
	}
}

func (o *txOverlay) GetAccount(addr crypto.Address) ledger.AccountState {
	if acc, ok := o.accounts[addr]; ok {
		return acc
	}
	return o.parent.GetAccount(addr)
}

func (o *txOverlay) PutAccount(addr crypto.Address, acc ledger.AccountState) {
	o.accounts[addr] = acc
}

func (o *txOverlay) GetToken(hash crypto.Hash) (ledger.TokenMeta, bool) {
	if meta, ok := o.tokens[hash]; ok {
		return meta, true
	}
	return o.parent.GetToken(hash)
}

func (o *txOverlay) PutToken(hash crypto.Hash, meta ledger.TokenMeta) {
	o.tokens[hash] = meta
}

func (o *txOverlay) GetMultiSigMeta(addr crypto.Address) (ledger.MultiSigMeta, bool) {
	if meta, ok := o.multiSigMeta[addr]; ok {
		return meta, true
	}
	return o.parent.GetMultiSigMeta(addr)
}

func (o *txOverlay) PutMultiSigMeta(addr crypto.Address, meta ledger.MultiSigMeta) {
	o.multiSigMeta[addr] = meta
}

func (o *txOverlay) GetMultiSigSpend(hash crypto.Hash) (ledger.MultiSigSpendState, bool) {
	if spend, ok := o.multiSigSpends[hash]; ok {
		return spend, true
	}
	return o.parent.GetMultiSigSpend(hash)
}

func (o *txOverlay) PutMultiSigSpend(hash crypto.Hash, spend ledger.MultiSigSpendState) {
	o.multiSigSpends[hash] = spend
}

func (o *txOverlay) BlockHeight() uint64   { return o.parent.BlockHeight() }
func (o *txOverlay) BlockTimestamp() int64 { return o.parent.BlockTimestamp() }

// mergeInto replays every dirty record onto parent, called only once the
// transaction has fully succeeded.
func (o *txOverlay) mergeInto(parent ledger.AccountView) {
	for addr, acc := range o.accounts {
		parent.PutAccount(addr, acc)
	}
	for hash, meta := range o.tokens {
		parent.PutToken(hash, meta)
	}
	for addr, meta := range o.multiSigMeta {
		parent.PutMultiSigMeta(addr, meta)
	}
	for hash, spend := range o.multiSigSpends {
		parent.PutMultiSigSpend(hash, spend)
	}
}
