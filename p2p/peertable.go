package p2p

import (
	"sync"
	"time"
)

// maxLastContactSamples bounds the last_contact_ts ring spec.md 4.10's peer
// state names; only the most recent samples matter for liveness decisions.
const maxLastContactSamples = 8

// defaultBanDuration is the ban length NewTable uses when it is given a
// zero or negative duration; every ban a Table records uses its one
// configured length.
const defaultBanDuration = 24 * time.Hour

// PeerInfo is the per-peer bookkeeping spec.md 4.10 names: address,
// negotiated version, ban expiry, a credibility score, and a ring of recent
// contact timestamps used to judge idleness. Entries are keyed by bare host
// (IP) throughout Table, since a ban applies to the host regardless of
// which ephemeral source port an inbound connection happened to use;
// DialAddr separately remembers a host:port worth dialing, when known.
type PeerInfo struct {
	Host             string
	DialAddr         string
	ProtocolVersion  uint32
	BannedUntil      time.Time
	Credibility      int
	LastContact      [maxLastContactSamples]time.Time
	lastContactCount int
}

// IsBanned reports whether the peer is currently serving a ban.
func (p *PeerInfo) IsBanned(now time.Time) bool {
	return now.Before(p.BannedUntil)
}

// Table is the process-wide peer address book: known peers, their ban
// status, and credibility, protected by a single mutex since it sits
// outside the chain write path (spec.md 5 "Ban list and peer table are
// protected by a single mutex").
type Table struct {
	mu          sync.Mutex
	peers       map[string]*PeerInfo
	banDuration time.Duration
}

// NewTable returns an empty peer table that bans for banDuration (falls
// back to defaultBanDuration when zero).
func NewTable(banDuration time.Duration) *Table {
	if banDuration <= 0 {
		banDuration = defaultBanDuration
	}
	return &Table{peers: make(map[string]*PeerInfo), banDuration: banDuration}
}

// entry returns addrOrHost's PeerInfo, keyed by its bare host regardless of
// whether addrOrHost carried a port; if it did, DialAddr is recorded too.
func (t *Table) entry(addrOrHost string) *PeerInfo {
	host := hostOf(addrOrHost)
	p, ok := t.peers[host]
	if !ok {
		p = &PeerInfo{Host: host}
		t.peers[host] = p
	}
	if addrOrHost != host {
		p.DialAddr = addrOrHost
	}
	return p
}

// RecordContact notes a successful exchange with addr and its negotiated
// protocol version, raising its credibility slightly.
func (t *Table) RecordContact(addr string, protocolVersion uint32, when time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.entry(addr)
	p.ProtocolVersion = protocolVersion
	p.LastContact[p.lastContactCount%maxLastContactSamples] = when
	p.lastContactCount++
	if p.Credibility < 100 {
		p.Credibility++
	}
}

// Penalize lowers addr's credibility for a protocol violation that does not
// by itself warrant an outright ban; if credibility falls to zero the peer
// is banned for the table's configured duration.
func (t *Table) Penalize(addr string, amount int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.entry(addr)
	p.Credibility -= amount
	if p.Credibility <= 0 {
		p.BannedUntil = now.Add(t.banDuration)
		p.Credibility = 0
	}
}

// Ban immediately bans addr, used for a hard protocol fault such as a
// genesis-hash mismatch on handshake or an invalid header chain served
// during sync (spec.md 4.10, 4.11).
func (t *Table) Ban(addr string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.entry(addr)
	p.BannedUntil = now.Add(t.banDuration)
	p.Credibility = 0
}

// IsBanned reports whether addr (or its bare host) is currently banned.
func (t *Table) IsBanned(addr string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[hostOf(addr)]
	if !ok {
		return false
	}
	return p.IsBanned(now)
}

// Merge records addrs (host:port strings) as known bootstrap candidates
// without marking them contacted, the effect of receiving a PeersMsg.
func (t *Table) Merge(addrs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range addrs {
		t.entry(a)
	}
}

// Candidates returns up to limit known, currently-unbanned dialable
// addresses, excluding hosts in exclude, for outbound bootstrap dialing.
// A peer recorded only from an inbound connection (no known listening
// port) is not dialable and is skipped.
func (t *Table) Candidates(limit int, exclude map[string]bool, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, limit)
	for host, p := range t.peers {
		if len(out) >= limit {
			break
		}
		if p.DialAddr == "" || exclude[host] || p.IsBanned(now) {
			continue
		}
		out = append(out, p.DialAddr)
	}
	return out
}

// Snapshot returns every known dialable peer address, for answering a
// PeersMsg request.
func (t *Table) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.peers))
	for _, p := range t.peers {
		if p.DialAddr != "" {
			out = append(out, p.DialAddr)
		}
	}
	return out
}
