// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainmanager is the single writer of chain state (spec.md 4.8):
// header/body/state validation, fork choice by cumulative difficulty, and
// reorg. It is grounded on the teacher's blockdag.BlockDAG (single
// chain-write-lock guarding an in-memory block index plus a store handle,
// orphan pool with an expiration/count cap) collapsed from a DAG's
// multi-parent topology and GHOSTDAG blue-work ordering down to a
// single-parent chain with plain cumulative-difficulty fork choice, since
// spec.md is explicit about a single canonical chain, not a DAG.
package chainmanager

import (
	"math/big"
	"sync"
	"time"

	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/logs"
	"github.com/Hamza1s34/Qbitcoin/mempool"
	"github.com/Hamza1s34/Qbitcoin/state"
	"github.com/Hamza1s34/Qbitcoin/store"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
	"github.com/pkg/errors"
)

var log, _ = logs.Get(logs.SubsystemTags.CHMN)

// Rejection taxonomy for submit_block beyond what package block already
// enumerates (spec.md 4.8, 7).
var (
	ErrDuplicateBlock  = errors.New("chainmanager: block already indexed")
	ErrUnknownParent   = errors.New("chainmanager: parent header not found")
	ErrInvalidAncestor = errors.New("chainmanager: block descends from a known-invalid header")
	ErrReorgTooDeep    = errors.New("chainmanager: reorg exceeds configured reorg_limit")
	ErrStaleTemplate   = errors.New("chainmanager: template no longer extends the current tip")
)

const maxOrphans = 100

// Template is the candidate block shape a miner assembles a header and
// nonce search around (spec.md 4.9 step 1).
type Template struct {
	PrevHash          crypto.Hash
	Height            uint64
	Bits              uint32
	Timestamp         int64
	Subsidy           uint64
	CoinbaseRecipient crypto.Address
	Transactions      []*txtypes.Transaction // excludes coinbase; miner prepends it
	Seq               uint64                 // Manager.Sequence() at template build time
}

// orphanEntry is a block queued because its parent has not been seen yet
// (spec.md 4.8 "enqueues as orphan"), grounded on the teacher's orphanBlock
// (block + expiration, indexed both by its own hash and by the parent hash
// it is waiting on).
type orphanEntry struct {
	blk        *block.Block
	expiration time.Time
}

// Manager is the node's single chain-state writer. Safe for concurrent use:
// every mutating method takes the same mutex, serializing submissions from
// P2P and the miner (spec.md 4.8 "Scheduling model").
type Manager struct {
	mu sync.Mutex

	store  *store.Store
	params *config.NetworkParams
	pool   *mempool.Pool

	orphans         map[crypto.Hash]*orphanEntry
	orphansByParent map[crypto.Hash][]crypto.Hash

	// tipSeq increments every time the canonical tip changes (genesis
	// bootstrap, tip extension, or reorg). A miner worker stamps it on the
	// template it is searching and polls Sequence() periodically so it can
	// abandon a stale nonce search the moment a new tip lands (spec.md 4.9
	// "Invalidation is signaled via a sequence counter").
	tipSeq uint64
}

// New opens a chain manager over store, bootstrapping the genesis block if
// the store is empty (spec.md 8 scenario 1). genesisRecipient receives the
// height-0 coinbase subsidy.
func New(backing *store.Store, params *config.NetworkParams, pool *mempool.Pool, genesisRecipient crypto.Address) (*Manager, error) {
	m := &Manager{
		store:           backing,
		params:          params,
		pool:            pool,
		orphans:         make(map[crypto.Hash]*orphanEntry),
		orphansByParent: make(map[crypto.Hash][]crypto.Hash),
	}
	if _, ok, err := backing.ChainTip(); err != nil {
		return nil, err
	} else if !ok {
		if err := m.initializeGenesis(genesisRecipient); err != nil {
			return nil, errors.Wrap(err, "initializing genesis block")
		}
	}
	return m, nil
}

func (m *Manager) initializeGenesis(recipient crypto.Address) error {
	blk := buildGenesisBlock(m.params, recipient)
	subsidy := block.Subsidy(0, m.params.InitialSubsidy, m.params.HalvingInterval)
	overlay, err := state.ApplyBlock(m.store, blk, m.params, subsidy)
	if err != nil {
		return err
	}

	credits, err := genesisCredits(m.params)
	if err != nil {
		return err
	}
	for _, out := range credits {
		acc := overlay.GetAccount(out.Recipient)
		acc.Balance += out.Amount
		overlay.PutAccount(out.Recipient, acc)
	}

	hash := blk.Header.Hash()
	loc, err := m.store.AppendBlockBytes(encodeBlock(blk))
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	overlay.StageInto(batch)
	batch.PutWriteSet(hash, overlay.WriteSet())
	batch.PutBlockMeta(hash, store.BlockMetaData{
		ParentHash:           crypto.Hash{},
		BlockNumber:          0,
		Timestamp:            blk.Header.Timestamp,
		Bits:                 blk.Header.Bits,
		CumulativeDifficulty: workFromBits(blk.Header.Bits),
		Status:               store.StatusValid,
	})
	batch.PutBlockLocation(hash, loc)
	batch.PutHeightIndex(0, hash)
	batch.PutChainTip(hash)
	if err := m.store.CommitBatch(batch); err != nil {
		return err
	}
	m.tipSeq++
	log.Infof("initialized genesis block %s", hash)
	return nil
}

// Sequence returns the current tip-change counter, the value a mining
// template is stamped with so a worker can cheaply detect a stale search
// without re-deriving the tip hash itself (spec.md 4.9).
func (m *Manager) Sequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tipSeq
}

// Tip returns the current canonical tip's header hash and height.
func (m *Manager) Tip() (crypto.Hash, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tipLocked()
}

func (m *Manager) tipLocked() (crypto.Hash, uint64, error) {
	hash, ok, err := m.store.ChainTip()
	if err != nil {
		return crypto.Hash{}, 0, err
	}
	if !ok {
		return crypto.Hash{}, 0, errors.New("chainmanager: no chain tip, genesis not initialized")
	}
	meta, ok, err := m.store.BlockMeta(hash)
	if err != nil {
		return crypto.Hash{}, 0, err
	}
	if !ok {
		return crypto.Hash{}, 0, errors.New("chainmanager: tip has no block metadata")
	}
	return hash, meta.BlockNumber, nil
}

// CumulativeDifficulty returns the canonical tip's total accumulated work.
func (m *Manager) CumulativeDifficulty() (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, _, err := m.tipLocked()
	if err != nil {
		return nil, err
	}
	meta, _, err := m.store.BlockMeta(hash)
	if err != nil {
		return nil, err
	}
	return meta.CumulativeDifficulty, nil
}

// HeaderAt resolves the canonical header at height n.
func (m *Manager) HeaderAt(n uint64) (*block.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok, err := m.store.HeaderHashAtHeight(n)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	blk, err := m.blockByHashLocked(hash)
	if err != nil {
		return nil, err
	}
	return &blk.Header, nil
}

// BlockByHash returns the full block for hash, canonical or not.
func (m *Manager) BlockByHash(hash crypto.Hash) (*block.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockByHashLocked(hash)
}

func (m *Manager) blockByHashLocked(hash crypto.Hash) (*block.Block, error) {
	loc, ok, err := m.store.BlockLocation(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	data, err := m.store.ReadBlockBytes(loc)
	if err != nil {
		return nil, err
	}
	return decodeBlockBytes(data)
}

// SubmitTransaction delegates to the mempool's admission pipeline (spec.md
// 4.8 "submit_transaction").
func (m *Manager) SubmitTransaction(tx *txtypes.Transaction) (mempool.GossipRecord, error) {
	return m.pool.Admit(tx)
}

// BuildTemplate assembles a mining template over the current tip, draining
// up to maxTxs mempool entries ordered by fee rate (spec.md 4.9 step 1).
func (m *Manager) BuildTemplate(coinbaseRecipient crypto.Address, maxTxs int) (Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tipHash, _, err := m.tipLocked()
	if err != nil {
		return Template{}, err
	}
	meta, ok, err := m.store.BlockMeta(tipHash)
	if err != nil {
		return Template{}, err
	}
	if !ok {
		return Template{}, errors.New("chainmanager: tip metadata missing")
	}
	bits, err := m.nextDifficultyBits(meta)
	if err != nil {
		return Template{}, err
	}
	height := meta.BlockNumber + 1
	subsidy := block.Subsidy(height, m.params.InitialSubsidy, m.params.HalvingInterval)
	return Template{
		PrevHash:          tipHash,
		Height:            height,
		Bits:              bits,
		Timestamp:         time.Now().Unix(),
		Subsidy:           subsidy,
		CoinbaseRecipient: coinbaseRecipient,
		Transactions:      m.pool.DrainByFeeRate(maxTxs),
		Seq:               m.tipSeq,
	}, nil
}

// SubmitBlock validates blk and decides its fork position: reject outright
// on a structural failure, queue as an orphan if its parent is unknown, or
// commit/reorg if it is well-formed (spec.md 4.8 "submit_block"). source
// identifies the origin (e.g. a peer address or "miner") for logging only.
func (m *Manager) SubmitBlock(blk *block.Block, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitBlockLocked(blk, source)
}

// submitBlockLocked is SubmitBlock's body, callable while m.mu is already
// held so orphan resolution (which discovers a previously-orphaned child
// while already inside a submission) can recurse without deadlocking.
func (m *Manager) submitBlockLocked(blk *block.Block, source string) error {
	hash := blk.Header.Hash()
	if _, ok, err := m.store.BlockMeta(hash); err != nil {
		return err
	} else if ok {
		return ErrDuplicateBlock
	}

	if err := block.CheckHeaderSanity(&blk.Header, m.params); err != nil {
		return err
	}

	parentMeta, ok, err := m.store.BlockMeta(blk.Header.PrevHash)
	if err != nil {
		return err
	}
	if !ok {
		m.queueOrphan(blk)
		return ErrUnknownParent
	}
	if parentMeta.Status == store.StatusInvalid {
		m.markInvalidLocked(hash, blk.Header.PrevHash, blk.Header.BlockNumber, workFromBits(blk.Header.Bits))
		return ErrInvalidAncestor
	}

	medianTime, err := m.medianTime(parentMeta)
	if err != nil {
		return err
	}
	prevInfo := &block.PrevBlockInfo{Hash: blk.Header.PrevHash, BlockNumber: parentMeta.BlockNumber, MedianTime: medianTime}
	if err := block.CheckHeaderContextual(&blk.Header, prevInfo, m.params, time.Now()); err != nil {
		return err
	}
	if err := block.CheckBody(blk); err != nil {
		return err
	}
	wantBits, err := m.nextDifficultyBits(parentMeta)
	if err != nil {
		return err
	}
	if blk.Header.Bits != wantBits {
		return block.ErrBadDifficulty
	}

	cumDiff := new(big.Int).Add(parentMeta.CumulativeDifficulty, workFromBits(blk.Header.Bits))

	loc, err := m.store.AppendBlockBytes(encodeBlock(blk))
	if err != nil {
		return err
	}
	indexBatch := store.NewBatch()
	indexBatch.PutBlockMeta(hash, store.BlockMetaData{
		ParentHash:           blk.Header.PrevHash,
		BlockNumber:          blk.Header.BlockNumber,
		Timestamp:            blk.Header.Timestamp,
		Bits:                 blk.Header.Bits,
		CumulativeDifficulty: cumDiff,
		Status:               store.StatusValid,
	})
	indexBatch.PutBlockLocation(hash, loc)
	if err := m.store.CommitBatch(indexBatch); err != nil {
		return err
	}
	m.resolveOrphansOf(hash)

	currentTip, _, err := m.tipLocked()
	if err != nil {
		return err
	}
	currentMeta, _, err := m.store.BlockMeta(currentTip)
	if err != nil {
		return err
	}

	switch {
	case blk.Header.PrevHash == currentTip:
		if err := m.extendTip(blk, hash); err != nil {
			m.markInvalidLocked(hash, blk.Header.PrevHash, blk.Header.BlockNumber, cumDiff)
			return err
		}
		log.Infof("accepted block %s at height %d from %s", hash, blk.Header.BlockNumber, source)
		return nil
	case cumDiff.Cmp(currentMeta.CumulativeDifficulty) > 0:
		log.Infof("candidate tip %s (height %d) outweighs current tip %s, reorganizing", hash, blk.Header.BlockNumber, currentTip)
		return m.reorgTo(hash)
	default:
		log.Debugf("indexed side-branch block %s at height %d from %s", hash, blk.Header.BlockNumber, source)
		return nil
	}
}

// extendTip applies blk directly against the current committed state and
// advances the tip by one block, the common case where blk's parent is
// already the canonical tip (spec.md 4.8).
func (m *Manager) extendTip(blk *block.Block, hash crypto.Hash) error {
	subsidy := block.Subsidy(blk.Header.BlockNumber, m.params.InitialSubsidy, m.params.HalvingInterval)
	overlay, err := state.ApplyBlock(m.store, blk, m.params, subsidy)
	if err != nil {
		return err
	}

	meta, _, err := m.store.BlockMeta(hash)
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	overlay.StageInto(batch)
	batch.PutWriteSet(hash, overlay.WriteSet())
	batch.PutBlockMeta(hash, meta)
	batch.PutHeightIndex(blk.Header.BlockNumber, hash)
	batch.PutChainTip(hash)
	if err := m.store.CommitBatch(batch); err != nil {
		return err
	}
	m.tipSeq++

	m.pool.RemoveConfirmed(blk.Transactions[1:])
	m.pool.Reevaluate()
	return nil
}

func (m *Manager) markInvalidLocked(hash, parentHash crypto.Hash, height uint64, cumDiff *big.Int) {
	batch := store.NewBatch()
	batch.PutBlockMeta(hash, store.BlockMetaData{
		ParentHash:           parentHash,
		BlockNumber:          height,
		CumulativeDifficulty: cumDiff,
		Status:               store.StatusInvalid,
	})
	if err := m.store.CommitBatch(batch); err != nil {
		log.Errorf("marking block %s invalid: %v", hash, err)
	}
}
