// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool implements the pending-transaction pool (spec.md 4.7): a
// tx_hash -> Transaction map with secondary indices by signer address and by
// fee-rate, admission by a basic-then-stateful validation pipeline, and
// byte-budget eviction. It is grounded on the teacher's domain/mempool
// TxPool (map + secondary indices + RWMutex guarding pool mutation) and on
// domain/miningmanager/mempool/transactions_pool.go's separate
// fee-rate-ordered structure, generalized from a UTXO mempool's
// outpoint-chaining to the account model's address+nonce chaining.
package mempool

import (
	"sync"

	"github.com/Hamza1s34/Qbitcoin/codec"
	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/Hamza1s34/Qbitcoin/logs"
	"github.com/Hamza1s34/Qbitcoin/state"
	"github.com/Hamza1s34/Qbitcoin/store"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
	"github.com/pkg/errors"
)

var log, _ = logs.Get(logs.SubsystemTags.MMPL)

// ErrMempoolFull is returned when tx does not qualify for the fee-rate
// eviction needed to make room for it (spec.md 8 scenario 4).
var ErrMempoolFull = errors.New("mempool: transaction fee rate too low to evict room for it")

// ErrFeeTooLow is returned when tx's fee rate is below the configured
// min_fee_per_byte floor (spec.md 6).
var ErrFeeTooLow = errors.New("mempool: fee rate below minimum")

// GossipRecord is the (mr, tx_hash, type) tuple emitted on successful
// admission for the P2P layer to relay (spec.md 4.7 step 4).
type GossipRecord struct {
	Hash crypto.Hash
	Type txtypes.Type
}

// entry is one admitted transaction plus the bookkeeping the pool's indices
// and eviction policy need.
type entry struct {
	tx      *txtypes.Transaction
	hash    crypto.Hash
	size    uint64
	feeRate float64 // fee per byte
	heapIdx int     // position in the fee-rate min-heap, maintained by container/heap
}

// Pool is the node's pending-transaction pool (spec.md 4.7). Safe for
// concurrent use.
type Pool struct {
	mu sync.RWMutex

	backing *store.Store
	params  *config.NetworkParams

	maxBytes    uint64
	minFeeRate  float64
	currentSize uint64

	byHash    map[crypto.Hash]*entry
	byAddress map[crypto.Address]map[crypto.Hash]struct{}
	feeHeap   feeHeap
}

// New returns an empty pool bounded by maxBytes total transaction size and
// rejecting anything below minFeePerByte (spec.md 6 "mempool_max_bytes",
// "min_fee_per_byte").
func New(backing *store.Store, params *config.NetworkParams, maxBytes, minFeePerByte uint64) *Pool {
	return &Pool{
		backing:    backing,
		params:     params,
		maxBytes:   maxBytes,
		minFeeRate: float64(minFeePerByte),
		byHash:     make(map[crypto.Hash]*entry),
		byAddress:  make(map[crypto.Address]map[crypto.Hash]struct{}),
	}
}

// snapshotOverlay builds a fresh copy-on-write overlay over backing's
// current tip, scoped to the next block height so coinbase-position and
// nonce checks see the chain as it will look once this transaction is
// mined. The overlay is discarded after validation: the mempool never
// commits it (spec.md 4.7 step 2).
func snapshotOverlay(backing *store.Store) ledger.AccountView {
	height, timestamp := tipContext(backing)
	return state.New(backing, height, timestamp)
}

func tipContext(backing *store.Store) (nextHeight uint64, timestamp int64) {
	tip, ok, err := backing.ChainTip()
	if err != nil || !ok {
		return 0, 0
	}
	meta, ok, err := backing.BlockMeta(tip)
	if err != nil || !ok {
		return 0, 0
	}
	return meta.BlockNumber + 1, meta.Timestamp
}

// Admit runs the admission pipeline for tx: basic validate, state validate
// against a throwaway overlay of the current tip, then evicts the lowest
// fee-rate entries if needed to stay within the byte budget (spec.md 4.7).
// On success it returns the gossip record the caller should relay.
func (p *Pool) Admit(tx *txtypes.Transaction) (GossipRecord, error) {
	if err := tx.BasicValidate(p.params); err != nil {
		return GossipRecord{}, err
	}

	hash := tx.ID()
	size := encodedSize(tx)
	feeRate := float64(tx.Fee) / float64(size)
	if feeRate < p.minFeeRate {
		return GossipRecord{}, ErrFeeTooLow
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byHash[hash]; exists {
		return GossipRecord{}, txtypes.ErrDuplicateTx
	}

	view := snapshotOverlay(p.backing)
	ctx := &txtypes.Context{BlockHeight: view.BlockHeight(), BlockTimestamp: view.BlockTimestamp(), TxIndex: 1}
	if err := state.ApplyTransaction(view, tx, p.params, ctx); err != nil {
		return GossipRecord{}, err
	}

	if err := p.makeRoom(size, feeRate); err != nil {
		return GossipRecord{}, err
	}

	e := &entry{tx: tx, hash: hash, size: size, feeRate: feeRate}
	p.insertLocked(e)

	log.Debugf("admitted transaction %s (%s, %d bytes, fee rate %.4f)", hash, tx.Type, size, feeRate)
	return GossipRecord{Hash: hash, Type: tx.Type}, nil
}

// makeRoom evicts lowest-fee-rate entries until adding a transaction of size
// bytes would fit the byte budget, refusing if the incoming transaction's
// own fee rate is not high enough to displace what is left (spec.md 8
// scenario 4: "evicted set is not gossiped as invalid").
func (p *Pool) makeRoom(size uint64, feeRate float64) error {
	for p.currentSize+size > p.maxBytes {
		lowest := p.feeHeap.peek()
		if lowest == nil {
			return ErrMempoolFull
		}
		if lowest.feeRate >= feeRate {
			return ErrMempoolFull
		}
		p.removeLocked(lowest.hash)
	}
	return nil
}

func (p *Pool) insertLocked(e *entry) {
	p.byHash[e.hash] = e
	p.feeHeap.push(e)
	p.currentSize += e.size

	addr := e.tx.MasterAddress
	set, ok := p.byAddress[addr]
	if !ok {
		set = make(map[crypto.Hash]struct{})
		p.byAddress[addr] = set
	}
	set[e.hash] = struct{}{}
}

func (p *Pool) removeLocked(hash crypto.Hash) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	p.feeHeap.remove(e)
	p.currentSize -= e.size

	if set, ok := p.byAddress[e.tx.MasterAddress]; ok {
		delete(set, hash)
		if len(set) == 0 {
			delete(p.byAddress, e.tx.MasterAddress)
		}
	}
}

// Remove evicts hash, a no-op if it is not present.
func (p *Pool) Remove(hash crypto.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
}

// Get returns the pooled transaction for hash, if any.
func (p *Pool) Get(hash crypto.Hash) (*txtypes.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// Has reports whether hash is currently pooled.
func (p *Pool) Has(hash crypto.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byHash[hash]
	return ok
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}

// ByAddress returns the hashes of every pooled transaction signed by addr.
func (p *Pool) ByAddress(addr crypto.Address) []crypto.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.byAddress[addr]
	out := make([]crypto.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// DrainByFeeRate returns up to limit pooled transactions ordered from
// highest to lowest fee rate, the candidate set a miner assembles a block
// template from. It does not remove them from the pool: removal happens
// once the block they end up in actually commits.
func (p *Pool) DrainByFeeRate(limit int) []*txtypes.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sorted := p.feeHeap.sortedDescending()
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	out := make([]*txtypes.Transaction, len(sorted))
	for i, e := range sorted {
		out[i] = e.tx
	}
	return out
}

// RemoveConfirmed drops every transaction included in a just-committed block
// (spec.md 4.7 "On block commit: remove included transactions ...").
func (p *Pool) RemoveConfirmed(txs []*txtypes.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tx := range txs {
		p.removeLocked(tx.ID())
	}
}

// Reevaluate re-validates every pooled transaction against the current tip,
// dropping any that became invalid: a nonce collision or key reuse from a
// transaction that just landed in a block, or (after a reorg) a transaction
// that depended on since-reverted state (spec.md 4.7 "On block commit:
// remove ... transactions that became invalid"; "On reorg: re-evaluate all
// mempool entries against the new tip").
func (p *Pool) Reevaluate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Each entry gets its own fresh overlay rather than a shared, chained
	// one: map iteration order is unspecified, and chaining would make a
	// transaction's survival depend on the arbitrary order other senders'
	// transactions happened to be visited in.
	for hash, e := range p.byHash {
		view := snapshotOverlay(p.backing)
		ctx := &txtypes.Context{BlockHeight: view.BlockHeight(), BlockTimestamp: view.BlockTimestamp(), TxIndex: 1}
		if err := state.ApplyTransaction(view, e.tx, p.params, ctx); err != nil {
			log.Debugf("evicting %s after reevaluation: %v", hash, err)
			p.removeLocked(hash)
		}
	}
}

func encodedSize(tx *txtypes.Transaction) uint64 {
	w := codec.NewWriter()
	tx.Encode(w)
	return uint64(len(w.Bytes()))
}
