// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package state implements the in-memory account/token overlay in front of
// the store, with write-through on commit (spec.md 4.4). It is grounded on
// the teacher's blockdag/utxoset.go UTXODiff idiom: a small dirty-map layer
// in front of the real store that can be applied or discarded as a unit,
// generalized here from a UTXO set to an account map and carrying an
// explicit per-block write-set instead of a diff, since revert must be able
// to survive a process restart (spec.md 4.4, 9).
package state

import (
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/Hamza1s34/Qbitcoin/logs"
	"github.com/Hamza1s34/Qbitcoin/store"
)

var log, _ = logs.Get(logs.SubsystemTags.STAT)

// Overlay is a copy-on-write view over a store.Store: reads fall through to
// committed state, writes land in an in-memory dirty set, and the caller
// stages both the dirty set (StageInto) and the write-set needed to revert
// it (WriteSet) into one atomic batch. The mempool's speculative validation and the chain manager's block
// application both use an Overlay, the mempool's simply never committed
// (spec.md 4.4, 4.7).
type Overlay struct {
	backing *store.Store

	blockHeight    uint64
	blockTimestamp int64

	accounts       map[crypto.Address]ledger.AccountState
	tokens         map[crypto.Hash]ledger.TokenMeta
	multiSigMeta   map[crypto.Address]ledger.MultiSigMeta
	multiSigSpends map[crypto.Hash]ledger.MultiSigSpendState

	writeSet    []store.WriteSetEntry
	touchedKeys map[string]bool // key string -> already captured in writeSet
}

// New returns an overlay over backing for the given block context.
func New(backing *store.Store, blockHeight uint64, blockTimestamp int64) *Overlay {
	return &Overlay{
		backing:        backing,
		blockHeight:    blockHeight,
		blockTimestamp: blockTimestamp,
		accounts:       make(map[crypto.Address]ledger.AccountState),
		tokens:         make(map[crypto.Hash]ledger.TokenMeta),
		multiSigMeta:   make(map[crypto.Address]ledger.MultiSigMeta),
		multiSigSpends: make(map[crypto.Hash]ledger.MultiSigSpendState),
		touchedKeys:    make(map[string]bool),
	}
}

// captureWriteSet records key's prior raw value the first time this overlay
// touches it, so the commit batch carries an exact undo for revert_block
// (spec.md 4.4, 8 property 8). Subsequent touches of the same key within
// this overlay's lifetime are no-ops: the write-set must reflect the value
// from before this overlay started, not an intermediate one.
func (o *Overlay) captureWriteSet(key []byte) {
	k := string(key)
	if o.touchedKeys[k] {
		return
	}
	o.touchedKeys[k] = true
	prior, ok, err := o.backing.GetRaw(key)
	if err != nil {
		log.Errorf("reading prior value for write-set capture: %v", err)
		ok = false
	}
	o.writeSet = append(o.writeSet, store.WriteSetEntry{Key: append([]byte{}, key...), PriorValue: prior, HadValue: ok})
}

// GetAccount implements ledger.AccountView.
func (o *Overlay) GetAccount(addr crypto.Address) ledger.AccountState {
	if acc, ok := o.accounts[addr]; ok {
		return acc
	}
	acc, ok, err := o.backing.GetAccount(addr)
	if err != nil {
		log.Errorf("reading account %s: %v", addr, err)
	}
	if !ok {
		return ledger.AccountState{}
	}
	return acc
}

// PutAccount implements ledger.AccountView.
func (o *Overlay) PutAccount(addr crypto.Address, acc ledger.AccountState) {
	o.captureWriteSet(store.AccountKey(addr))
	o.accounts[addr] = acc
}

// GetToken implements ledger.AccountView.
func (o *Overlay) GetToken(hash crypto.Hash) (ledger.TokenMeta, bool) {
	if meta, ok := o.tokens[hash]; ok {
		return meta, true
	}
	meta, ok, err := o.backing.GetToken(hash)
	if err != nil {
		log.Errorf("reading token %s: %v", hash, err)
		return ledger.TokenMeta{}, false
	}
	return meta, ok
}

// PutToken implements ledger.AccountView.
func (o *Overlay) PutToken(hash crypto.Hash, meta ledger.TokenMeta) {
	o.captureWriteSet(store.TokenKey(hash))
	o.tokens[hash] = meta
}

// GetMultiSigMeta implements ledger.AccountView.
func (o *Overlay) GetMultiSigMeta(addr crypto.Address) (ledger.MultiSigMeta, bool) {
	if meta, ok := o.multiSigMeta[addr]; ok {
		return meta, true
	}
	meta, ok, err := o.backing.GetMultiSigMeta(addr)
	if err != nil {
		log.Errorf("reading multisig meta %s: %v", addr, err)
		return ledger.MultiSigMeta{}, false
	}
	return meta, ok
}

// PutMultiSigMeta implements ledger.AccountView.
func (o *Overlay) PutMultiSigMeta(addr crypto.Address, meta ledger.MultiSigMeta) {
	o.captureWriteSet(store.MultiSigMetaKey(addr))
	o.multiSigMeta[addr] = meta
}

// GetMultiSigSpend implements ledger.AccountView.
func (o *Overlay) GetMultiSigSpend(hash crypto.Hash) (ledger.MultiSigSpendState, bool) {
	if spend, ok := o.multiSigSpends[hash]; ok {
		return spend, true
	}
	spend, ok, err := o.backing.GetMultiSigSpend(hash)
	if err != nil {
		log.Errorf("reading multisig spend %s: %v", hash, err)
		return ledger.MultiSigSpendState{}, false
	}
	return spend, ok
}

// PutMultiSigSpend implements ledger.AccountView.
func (o *Overlay) PutMultiSigSpend(hash crypto.Hash, spend ledger.MultiSigSpendState) {
	o.captureWriteSet(store.MultiSigSpendKey(hash))
	o.multiSigSpends[hash] = spend
}

// BlockHeight implements ledger.AccountView.
func (o *Overlay) BlockHeight() uint64 { return o.blockHeight }

// BlockTimestamp implements ledger.AccountView.
func (o *Overlay) BlockTimestamp() int64 { return o.blockTimestamp }

// WriteSet returns the (key, prior value) pairs captured so far, in first-
// touched order, the exact input revert_block needs (spec.md 4.4).
func (o *Overlay) WriteSet() []store.WriteSetEntry {
	return o.writeSet
}

// StageInto adds every dirty account/token/multisig record to batch. The
// caller (typically the chain manager applying a whole block) is
// responsible for also staging the write-set (o.WriteSet()) and any
// block-index bookkeeping into the same batch before committing, so the
// entire block lands as one atomic write (spec.md 4.3, 4.4).
func (o *Overlay) StageInto(batch *store.Batch) {
	for addr, acc := range o.accounts {
		batch.PutAccount(addr, acc)
	}
	for hash, meta := range o.tokens {
		batch.PutToken(hash, meta)
	}
	for addr, meta := range o.multiSigMeta {
		batch.PutMultiSigMeta(addr, meta)
	}
	for hash, spend := range o.multiSigSpends {
		batch.PutMultiSigSpend(hash, spend)
	}
}
