// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package syncer implements header-first initial block download: pick the
// peer advertising the highest cumulative difficulty, walk backward to the
// common tip, then backfill missing blocks in sliding windows (spec.md
// 4.11). It is grounded on the teacher's older protocol/flowcontext IBD
// state machine (an atomic in-progress flag plus a peer-selection
// function), adapted to this chain's simpler header-hash/fetch-by-height
// messages instead of kaspad's DAG selected-tip negotiation.
package syncer

import (
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hamza1s34/Qbitcoin/chainmanager"
	"github.com/Hamza1s34/Qbitcoin/logs"
	"github.com/Hamza1s34/Qbitcoin/p2p"
)

var log, _ = logs.Get(logs.SubsystemTags.SYNC)

const (
	// announceInterval is how often a node broadcasts its own chain state
	// so peers can judge whether it is worth syncing from.
	announceInterval = 30 * time.Second

	// syncCheckInterval is how often the syncer re-evaluates whether any
	// known peer is ahead of the local chain.
	syncCheckInterval = 10 * time.Second

	// headerWindow is how far below the previous probe each SYNC round
	// starts while walking backward to the common tip. A SYNC request names
	// only its start height; how many hashes the HEADERHASHES reply carries
	// is up to the responder.
	headerWindow = 500

	// blockWindow bounds how many blocks are requested in flight at once
	// during backfill, the "sliding window" spec.md 4.11 names.
	blockWindow = 64

	// requestTimeout bounds how long the syncer waits for a HEADERHASHES
	// reply before giving up on the selected peer and re-selecting
	// (spec.md 5 "Syncer requests carry a per-window timeout").
	requestTimeout = 15 * time.Second

	// windowPollInterval is how often the syncer checks whether the chain
	// tip has advanced to the top of the current backfill window.
	windowPollInterval = 250 * time.Millisecond
)

// peerState is the last chain-state a peer reported, used to rank sync
// sources by cumulative difficulty (spec.md 4.11).
type peerState struct {
	height     uint64
	cumDiff    *big.Int
	receivedAt time.Time
}

// headerReply correlates an inbound HEADERHASHES payload with the peer
// address it arrived from, since Server's dispatch is peer-agnostic from
// the syncer's point of view.
type headerReply struct {
	addr string
	msg  *p2p.HeaderHashesMsg
}

// Syncer drives catch-up against the network. One Syncer exists per node;
// it registers itself as the Server's sync-message sink.
type Syncer struct {
	chain *chainmanager.Manager
	srv   *p2p.Server

	mu     sync.Mutex
	states map[string]peerState

	headerReplies chan headerReply

	running int32 // atomic; 1 while a sync pass is in flight

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Syncer over chain and srv. It wires itself into srv as the
// sync-message and peer-connect callbacks, so srv.Start must not have run
// yet when this is called.
func New(chain *chainmanager.Manager, srv *p2p.Server) *Syncer {
	s := &Syncer{
		chain:         chain,
		srv:           srv,
		states:        make(map[string]peerState),
		headerReplies: make(chan headerReply, 4),
		stop:          make(chan struct{}),
	}
	srv.SetSyncHandler(s.handleMessage)
	srv.SetOnPeerConnect(s.greetPeer)
	return s
}

// Start launches the announce and sync-check loops.
func (s *Syncer) Start() {
	s.wg.Add(2)
	go s.announceLoop()
	go s.syncLoop()
}

// Stop halts both loops and waits for them to exit.
func (s *Syncer) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// greetPeer sends a freshly-connected peer our current chain state
// immediately, rather than waiting up to announceInterval for the next
// heartbeat, so a lone peer can be evaluated as a sync source right away.
func (s *Syncer) greetPeer(p *p2p.Peer) {
	msg, ok := s.ownChainState()
	if !ok {
		return
	}
	p.Send(msg)
}

func (s *Syncer) ownChainState() (*p2p.ChainStateMsg, bool) {
	_, height, err := s.chain.Tip()
	if err != nil {
		return nil, false
	}
	hdr, err := s.chain.HeaderAt(height)
	if err != nil {
		return nil, false
	}
	cum, err := s.chain.CumulativeDifficulty()
	if err != nil {
		return nil, false
	}
	return &p2p.ChainStateMsg{
		Height:               height,
		TipHash:              hdr.Hash(),
		CumulativeDifficulty: cum.Bytes(),
	}, true
}

func (s *Syncer) announceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if msg, ok := s.ownChainState(); ok {
				s.srv.Broadcast(msg, "")
			}
		}
	}
}

// handleMessage is registered with the Server as the sync-message sink
// (spec.md 4.10's CHAINSTATE/HEADERHASHES/BH payloads).
func (s *Syncer) handleMessage(p *p2p.Peer, payload p2p.Payload) {
	switch m := payload.(type) {
	case *p2p.ChainStateMsg:
		s.recordState(p.Addr, m.Height, m.CumulativeDifficulty)
	case *p2p.BlockHeightMsg:
		s.recordState(p.Addr, m.Height, m.CumulativeDifficulty)
	case *p2p.HeaderHashesMsg:
		select {
		case s.headerReplies <- headerReply{addr: p.Addr, msg: m}:
		default:
			log.Debugf("syncer: dropping HEADERHASHES reply from %s, no pending request", p.Addr)
		}
	}
}

func (s *Syncer) recordState(addr string, height uint64, cumDiffBytes []byte) {
	cum := new(big.Int).SetBytes(cumDiffBytes)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[addr] = peerState{height: height, cumDiff: cum, receivedAt: time.Now()}
}

// bestPeer returns the address of the known peer with the highest reported
// cumulative difficulty exceeding ours, if any.
func (s *Syncer) bestPeer(ourCumDiff *big.Int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bestAddr string
	var best *big.Int
	for addr, st := range s.states {
		if best == nil || st.cumDiff.Cmp(best) > 0 {
			best = st.cumDiff
			bestAddr = addr
		}
	}
	if best == nil || best.Cmp(ourCumDiff) <= 0 {
		return "", false
	}
	return bestAddr, true
}

func (s *Syncer) syncLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(syncCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.maybeSync()
		}
	}
}

// IsSyncing reports whether a catch-up pass is currently running.
func (s *Syncer) IsSyncing() bool {
	return atomic.LoadInt32(&s.running) != 0
}

func (s *Syncer) maybeSync() {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	ourCum, err := s.chain.CumulativeDifficulty()
	if err != nil {
		return
	}
	addr, ok := s.bestPeer(ourCum)
	if !ok {
		return
	}
	peer, ok := s.srv.PeerByAddr(addr)
	if !ok {
		return
	}
	log.Infof("syncer: starting catch-up against %s", addr)
	if err := s.syncAgainst(peer); err != nil {
		log.Warnf("syncer: catch-up against %s failed: %v", addr, err)
	}
}

// syncAgainst walks backward from our tip to find the point where our
// chain and peer's diverge, then backfills from there in sliding windows
// of blockWindow requests, pipelined: requests for the whole window are
// issued up front and the chain manager's tip height is polled until it
// reaches the window's top or the window stalls.
func (s *Syncer) syncAgainst(peer *p2p.Peer) error {
	_, ourHeight, err := s.chain.Tip()
	if err != nil {
		return err
	}

	commonHeight, err := s.findCommonAncestor(peer, ourHeight)
	if err != nil {
		return err
	}

	for from := commonHeight + 1; ; {
		_, tipHeight, err := s.chain.Tip()
		if err != nil {
			return err
		}
		if from <= tipHeight {
			from = tipHeight + 1
		}

		windowEnd := from + blockWindow - 1
		for h := from; h <= windowEnd; h++ {
			peer.Send(&p2p.FetchBlockMsg{Height: h})
		}

		advanced, err := s.awaitWindowProgress(tipHeight, requestTimeout)
		if err != nil {
			return err
		}
		if !advanced {
			// peer has nothing more to offer; sync pass ends here, not an
			// error, the next tick will pick a (possibly different) peer
			// if one pulls further ahead.
			return nil
		}
		from = windowEnd + 1
	}
}

// awaitWindowProgress polls the chain tip until it moves past fromHeight or
// timeout elapses, returning whether any progress was observed.
func (s *Syncer) awaitWindowProgress(fromHeight uint64, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(windowPollInterval)
	defer ticker.Stop()
	advanced := false
	for {
		select {
		case <-s.stop:
			return advanced, nil
		case <-ticker.C:
			_, h, err := s.chain.Tip()
			if err != nil {
				return advanced, err
			}
			if h > fromHeight {
				advanced = true
				fromHeight = h
				deadline = time.Now().Add(timeout)
			}
			if time.Now().After(deadline) {
				return advanced, nil
			}
		}
	}
}

// findCommonAncestor requests HEADERHASHES from peer starting progressively
// further back from ourHeight until it finds a height where peer's
// reported hash matches our own header hash, or concludes the peer's claim
// is inconsistent and bans it.
func (s *Syncer) findCommonAncestor(peer *p2p.Peer, ourHeight uint64) (uint64, error) {
	probe := ourHeight
	for {
		var start uint64
		if probe >= headerWindow {
			start = probe - headerWindow + 1
		}
		peer.Send(&p2p.SyncMsg{FromHeight: start})

		reply, err := s.awaitHeaderReply(peer.Addr, requestTimeout)
		if err != nil {
			return 0, err
		}
		if reply.StartHeight != start || uint64(len(reply.Hashes)) == 0 {
			s.srv.Ban(peer.Addr, "malformed HEADERHASHES reply")
			return 0, errInconsistentHeaders
		}

		for i := len(reply.Hashes) - 1; i >= 0; i-- {
			h := start + uint64(i)
			ourHdr, err := s.chain.HeaderAt(h)
			if err != nil {
				continue
			}
			if ourHdr.Hash() == reply.Hashes[i] {
				return h, nil
			}
		}

		if start == 0 {
			s.srv.Ban(peer.Addr, "header chain shares no common ancestor with ours")
			return 0, errInconsistentHeaders
		}
		probe = start - 1
	}
}

func (s *Syncer) awaitHeaderReply(addr string, timeout time.Duration) (*p2p.HeaderHashesMsg, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-s.stop:
			return nil, errStopped
		case <-deadline.C:
			return nil, errRequestTimeout
		case r := <-s.headerReplies:
			if r.addr != addr {
				continue
			}
			return r.msg, nil
		}
	}
}
