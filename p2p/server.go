// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/chainmanager"
	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/mempool"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
)

// idleTimeout is how long a peer may go without sending anything before the
// session is judged dead (spec.md 5 "peer sessions carry an idle deadline").
const idleTimeout = 90 * time.Second

// bootstrapInterval is how often the dial loop tries to top the peer count
// back up to the configured target (spec.md 4.10 "bootstrap is attempted
// periodically").
const bootstrapInterval = 15 * time.Second

// Server owns every peer session, the peer table, and routes inbound
// messages into the chain manager and mempool. It is grounded on the
// teacher's server.Server (listener + address manager + connection manager
// composition), collapsed to this chain's single-listener, single-network
// shape.
type Server struct {
	chain  *chainmanager.Manager
	pool   *mempool.Pool
	params *config.NetworkParams
	cfg    *config.Config
	table  *Table

	mu    sync.Mutex
	peers map[string]*Peer

	syncHandler   func(*Peer, Payload)
	onPeerConnect func(*Peer)

	listener net.Listener
	stop     chan struct{}
	wg       sync.WaitGroup
}

// SetSyncHandler registers the callback onMessage forwards CHAINSTATE,
// HEADERHASHES and BH payloads to, alongside the generic dispatch table
// (spec.md 4.11's syncer consumes these through its own request paths
// rather than the gossip/validation switch below). Must be called before
// Start.
func (s *Server) SetSyncHandler(h func(*Peer, Payload)) {
	s.syncHandler = h
}

// SetOnPeerConnect registers a callback fired once a session finishes its
// handshake and is registered, used by the syncer to push an immediate
// chain-state announcement instead of waiting for the next heartbeat. Must
// be called before Start.
func (s *Server) SetOnPeerConnect(h func(*Peer)) {
	s.onPeerConnect = h
}

// New builds a server over chain and pool (the same mempool instance chain
// was constructed with, per the node's Store -> State -> Mempool ->
// ChainManager -> P2P wiring order).
func New(chain *chainmanager.Manager, pool *mempool.Pool, params *config.NetworkParams, cfg *config.Config) *Server {
	return &Server{
		chain:  chain,
		pool:   pool,
		params: params,
		cfg:    cfg,
		table:  NewTable(cfg.BanDuration),
		peers:  make(map[string]*Peer),
		stop:   make(chan struct{}),
	}
}

// Start opens the inbound listener (if configured) and launches the
// bootstrap dial loop.
func (s *Server) Start() error {
	s.table.Merge(s.cfg.ConnectPeers)
	s.table.Merge(SeedFromDNS(s.params.DNSSeeds, s.params.DefaultPort, net.LookupIP))

	if s.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return err
		}
		s.listener = ln
		s.wg.Add(1)
		go s.acceptLoop(ln)
		log.Infof("p2p: listening on %s", s.cfg.ListenAddr)
	}

	s.wg.Add(1)
	go s.dialLoop()
	return nil
}

// Stop closes the listener and every active peer session.
func (s *Server) Stop() {
	close(s.stop)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for _, p := range s.peers {
		p.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				log.Errorf("p2p: accept: %v", err)
				continue
			}
		}
		addr := conn.RemoteAddr().String()
		if s.table.IsBanned(hostOf(addr), time.Now()) {
			conn.Close()
			continue
		}
		go s.handleConn(conn, false)
	}
}

// dialLoop periodically tops up the peer count from the table's known
// candidates, reaching for cfg.MaxPeers (spec.md 4.10).
func (s *Server) dialLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(bootstrapInterval)
	defer ticker.Stop()

	s.tryDialMore()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tryDialMore()
		}
	}
}

func (s *Server) tryDialMore() {
	s.mu.Lock()
	have := len(s.peers)
	exclude := make(map[string]bool, have)
	for addr := range s.peers {
		exclude[hostOf(addr)] = true
	}
	s.mu.Unlock()

	need := s.cfg.MaxPeers - have
	if need <= 0 {
		return
	}
	candidates := s.table.Candidates(need, exclude, time.Now())
	for _, addr := range candidates {
		go s.dial(addr)
	}
}

func (s *Server) dial(addr string) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		log.Debugf("p2p: dial %s failed: %v", addr, err)
		return
	}
	s.handleConn(conn, true)
}

// handleConn drives one connection through handshake and, on success,
// registers it and starts its read/write loops.
func (s *Server) handleConn(conn net.Conn, outbound bool) {
	p := newPeer(conn, outbound, idleTimeout, s.cfg.PeerRateLimit)

	ours := VersionMsg{
		ProtocolVersion: ProtocolVersion,
		GenesisHash:     s.genesisHash(),
		DeclaredRateCap: s.cfg.PeerRateLimit,
		UserAgent:       "qbitcoind",
	}

	if err := p.Handshake(ours); err != nil {
		if err == ErrGenesisMismatch {
			s.table.Ban(hostOf(p.Addr), time.Now())
			log.Warnf("p2p: banned %s: genesis mismatch", p.Addr)
		} else {
			log.Debugf("p2p: handshake with %s failed: %v", p.Addr, err)
		}
		conn.Close()
		return
	}

	s.mu.Lock()
	if _, dup := s.peers[p.Addr]; dup {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.peers[p.Addr] = p
	s.mu.Unlock()

	s.table.RecordContact(hostOf(p.Addr), p.Version.ProtocolVersion, time.Now())
	log.Infof("p2p: peer %s connected (outbound=%v)", p.Addr, outbound)

	go p.runWriter()
	if s.onPeerConnect != nil {
		s.onPeerConnect(p)
	}
	go func() {
		p.runReader(s.onMessage)
		s.mu.Lock()
		delete(s.peers, p.Addr)
		s.mu.Unlock()
	}()
}

// genesisHash returns the hash of the block at height 0, the partition key
// the handshake checks (spec.md 4.10).
func (s *Server) genesisHash() crypto.Hash {
	hdr, err := s.chain.HeaderAt(0)
	if err != nil {
		return crypto.Hash{}
	}
	return hdr.Hash()
}

// onMessage dispatches one decoded payload from p (spec.md 4.10's message
// set). Anything requiring validation is handed to the chain manager or
// mempool, which apply the same checks regardless of origin.
func (s *Server) onMessage(p *Peer, payload Payload) {
	if p.Throttled() {
		s.table.Penalize(hostOf(p.Addr), 100, time.Now())
		log.Warnf("p2p: disconnecting %s for exceeding declared rate", p.Addr)
		p.Close()
		return
	}
	switch m := payload.(type) {
	case *PongMsg:
		// liveness only: the read itself already reset the idle deadline.

	case *PeersMsg:
		s.table.Merge(m.Addrs)

	case *HaveHashMsg:
		have := false
		if m.IsBlock {
			_, err := s.chain.BlockByHash(m.Hash)
			have = err == nil
		} else {
			have = s.pool.Has(m.Hash)
		}
		if !have {
			p.Send(&SendFullMsg{IsBlock: m.IsBlock, Hash: m.Hash})
		}

	case *SendFullMsg:
		if m.IsBlock {
			blk, err := s.chain.BlockByHash(m.Hash)
			if err == nil {
				p.Send(&BlockMsg{Block: blk})
			}
		} else if tx, ok := s.pool.Get(m.Hash); ok {
			p.Send(&TxMsg{Tx: tx})
		}

	case *BlockMsg:
		s.ingestBlock(p, m.Block)

	case *TxMsg:
		s.ingestTx(p, m.Tx)

	case *FetchBlockMsg:
		hdr, err := s.chain.HeaderAt(m.Height)
		if err != nil {
			p.Send(&PushBlockMsg{Height: m.Height, Found: false})
			return
		}
		blk, err := s.chain.BlockByHash(hdr.Hash())
		if err != nil {
			p.Send(&PushBlockMsg{Height: m.Height, Found: false})
			return
		}
		p.Send(&PushBlockMsg{Height: m.Height, Found: true, Block: blk})

	case *PushBlockMsg:
		if m.Found {
			s.ingestBlock(p, m.Block)
		}

	case *SyncMsg:
		hdr, err := s.chain.HeaderAt(m.FromHeight)
		if err != nil {
			return
		}
		p.Send(&HeaderHashesMsg{StartHeight: m.FromHeight, Hashes: []crypto.Hash{hdr.Hash()}})

	case *HeaderHashesMsg, *ChainStateMsg, *BlockHeightMsg:
		if s.syncHandler != nil {
			s.syncHandler(p, m)
		}

	case *AckMsg, *VersionMsg:
		// flow control and handshake are handled entirely inside Peer.
	}
}

func (s *Server) ingestBlock(p *Peer, blk *block.Block) {
	if err := s.chain.SubmitBlock(blk, p.Addr); err != nil {
		log.Debugf("p2p: block from %s rejected: %v", p.Addr, err)
		return
	}
	s.Broadcast(&HaveHashMsg{IsBlock: true, Hash: blk.Header.Hash()}, p.Addr)
}

func (s *Server) ingestTx(p *Peer, tx *txtypes.Transaction) {
	record, err := s.chain.SubmitTransaction(tx)
	if err != nil {
		log.Debugf("p2p: transaction from %s rejected: %v", p.Addr, err)
		return
	}
	s.Broadcast(&HaveHashMsg{IsBlock: false, Hash: record.Hash}, p.Addr)
}

// Broadcast announces payload to every connected peer except exclude.
func (s *Server) Broadcast(payload Payload, exclude string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, p := range s.peers {
		if addr == exclude {
			continue
		}
		p.Send(payload)
	}
}

// BroadcastBlock announces a newly-mined or newly-accepted block to every
// peer (spec.md 4.10 gossip via MR announcements).
func (s *Server) BroadcastBlock(blk *block.Block) {
	s.Broadcast(&HaveHashMsg{IsBlock: true, Hash: blk.Header.Hash()}, "")
}

// BroadcastTx announces a newly-admitted mempool transaction.
func (s *Server) BroadcastTx(hash crypto.Hash) {
	s.Broadcast(&HaveHashMsg{IsBlock: false, Hash: hash}, "")
}

// PeerCount returns the number of established sessions.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// BestPeer returns a connected peer chosen at random among all current
// sessions; whether a peer has reported a chain state is not checked (spec.md
// 4.11 picks by cumulative difficulty; the syncer package owns that
// comparison, this is just session selection plumbing for it).
func (s *Server) BestPeer() (*Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) == 0 {
		return nil, false
	}
	addrs := make([]string, 0, len(s.peers))
	for a := range s.peers {
		addrs = append(addrs, a)
	}
	return s.peers[addrs[rand.Intn(len(addrs))]], true
}

// PeerByAddr returns the currently-connected peer at addr, if any.
func (s *Server) PeerByAddr(addr string) (*Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[addr]
	return p, ok
}

// Peers returns every currently-connected peer.
func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Ban immediately bans addr's host and drops its active session, used by
// the syncer when a peer serves an invalid or inconsistent header chain
// (spec.md 4.11).
func (s *Server) Ban(addr string, reason string) {
	s.table.Ban(hostOf(addr), time.Now())
	log.Warnf("p2p: banned %s: %s", addr, reason)
	if p, ok := s.PeerByAddr(addr); ok {
		p.Close()
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
