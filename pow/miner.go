// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pow runs the node's proof-of-work mining loop (spec.md 4.9): zero
// or more worker goroutines each pull a template from the chain manager,
// build a header around a coinbase transaction, and search the nonce space
// for a hash under the template's target, aborting for a fresh template the
// moment the tip moves. It is grounded on the teacher's
// domain/consensus/utils/mining.SolveBlock nonce-search shape, generalized
// from a single solve call into a worker pool with template invalidation
// (the teacher's standalone miner is a separate binary driving the node
// over gRPC; spec.md asks for an in-process loop instead).
package pow

import (
	"math"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/chainmanager"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/logs"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
)

var log, _ = logs.Get(logs.SubsystemTags.POWM)

// sequenceCheckInterval bounds how many nonce attempts a worker makes
// before it re-reads the chain manager's tip-change counter (spec.md 4.9
// "a worker checks the counter every configurable number of attempts").
const sequenceCheckInterval = 1 << 14

// templateRefreshInterval is how often an idle worker (one that exhausted
// its nonce space without a hit) re-requests a template even if it was
// never told the tip moved, so it eventually picks up newly arrived
// mempool transactions.
const templateRefreshInterval = 5 * time.Second

// Miner drives maxWorkers nonce-search goroutines against chain's current
// template, submitting anything they find back through chain.SubmitBlock.
type Miner struct {
	chain      *chainmanager.Manager
	recipient  crypto.Address
	maxWorkers int
	maxTxs     int

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New returns a miner paying coinbase_recipient to recipient, running
// workerCount worker goroutines (0 disables mining), each drawing up to
// maxTxs mempool entries per template.
func New(chain *chainmanager.Manager, recipient crypto.Address, workerCount, maxTxs int) *Miner {
	return &Miner{
		chain:      chain,
		recipient:  recipient,
		maxWorkers: workerCount,
		maxTxs:     maxTxs,
	}
}

// Start launches the configured worker goroutines. It is a no-op if the
// miner is already running or configured with zero workers.
func (m *Miner) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.maxWorkers <= 0 {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	for i := 0; i < m.maxWorkers; i++ {
		m.wg.Add(1)
		go m.worker(i, m.stop)
	}
	log.Infof("started %d mining worker(s) paying %s", m.maxWorkers, m.recipient)
}

// Stop signals every worker to abandon its current search and waits for
// them to exit.
func (m *Miner) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	log.Infof("stopped mining")
}

// worker implements spec.md 4.9's per-worker loop: fetch template, build
// header, search an assigned nonce subrange, abort on invalidation or
// submit on success.
func (m *Miner) worker(id int, stop chan struct{}) {
	defer m.wg.Done()
	rnd := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id)<<32))

	for {
		select {
		case <-stop:
			return
		default:
		}

		tmpl, err := m.chain.BuildTemplate(m.recipient, m.maxTxs)
		if err != nil {
			log.Errorf("worker %d: building template: %v", id, err)
			select {
			case <-stop:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		blk := assembleBlock(tmpl)
		target := block.CompactToBig(blk.Header.Bits)
		found := m.searchNonces(id, blk, target, tmpl.Seq, rnd, stop)
		if found == nil {
			continue // template went stale or the refresh window elapsed; loop and re-fetch
		}

		if err := m.chain.SubmitBlock(found, "miner"); err != nil {
			log.Debugf("worker %d: submitted block rejected: %v", id, err)
		} else {
			log.Infof("worker %d: mined block %s at height %d", id, found.Header.Hash(), found.Header.BlockNumber)
		}
	}
}

// searchNonces iterates the header's nonce field from a random starting
// point, as the teacher's SolveBlock does, checking the tip-sequence
// counter every sequenceCheckInterval attempts so a worker never grinds
// against a template the chain manager has already moved past. It returns
// the solved block, or nil if the search was abandoned (stale template,
// refresh timeout, or shutdown).
func (m *Miner) searchNonces(id int, blk *block.Block, target *big.Int, seq uint64, rnd *rand.Rand, stop chan struct{}) *block.Block {
	deadline := time.Now().Add(templateRefreshInterval)
	nonce := rnd.Uint64()

	for attempts := 0; ; attempts++ {
		if attempts%sequenceCheckInterval == 0 {
			select {
			case <-stop:
				return nil
			default:
			}
			if m.chain.Sequence() != seq {
				return nil
			}
			if time.Now().After(deadline) {
				return nil
			}
		}

		blk.Header.Nonce = nonce
		hash := blk.Header.Hash()
		if block.HashToBig(hash).Cmp(target) <= 0 {
			return blk
		}

		nonce++
		if nonce == math.MaxUint64 {
			blk.Header.ExtraNonce++
			nonce = 0
		}
	}
}

// assembleBlock builds the candidate block tmpl describes: the coinbase
// transaction paying tmpl.CoinbaseRecipient the subsidy plus the sum of
// included transactions' fees, prepended to tmpl.Transactions, with the
// header's merkle root computed over the final list (spec.md 4.9 step 2).
func assembleBlock(tmpl chainmanager.Template) *block.Block {
	var feeSum uint64
	for _, tx := range tmpl.Transactions {
		feeSum += tx.Fee
	}
	reward := tmpl.Subsidy + feeSum

	coinbase := &txtypes.Transaction{
		Type:    txtypes.TypeCoinbase,
		Payload: &txtypes.Coinbase{Recipient: tmpl.CoinbaseRecipient, Amount: reward},
	}
	txs := make([]*txtypes.Transaction, 0, len(tmpl.Transactions)+1)
	txs = append(txs, coinbase)
	txs = append(txs, tmpl.Transactions...)

	blk := &block.Block{
		Header: block.Header{
			PrevHash:    tmpl.PrevHash,
			BlockNumber: tmpl.Height,
			Timestamp:   tmpl.Timestamp,
			Bits:        tmpl.Bits,
			Reward:      reward,
			FeeSum:      feeSum,
		},
		Transactions: txs,
	}
	blk.Header.MerkleRoot = block.MerkleRoot(blk.Transactions)
	return blk
}
