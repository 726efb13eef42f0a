package chainmanager

import (
	"time"

	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/crypto"
)

// orphanExpiration bounds how long a block with an unresolved parent is
// held before being dropped, grounded on the teacher's orphan-block
// expiration idiom (blockdag.orphanBlock.expiration).
const orphanExpiration = 20 * time.Minute

// queueOrphan holds blk until its parent is seen, evicting the oldest
// orphan first if the pool is at capacity (spec.md 4.8 "enqueues as
// orphan").
func (m *Manager) queueOrphan(blk *block.Block) {
	hash := blk.Header.Hash()
	if _, exists := m.orphans[hash]; exists {
		return
	}
	if len(m.orphans) >= maxOrphans {
		m.evictOldestOrphanLocked()
	}
	m.orphans[hash] = &orphanEntry{blk: blk, expiration: time.Now().Add(orphanExpiration)}
	m.orphansByParent[blk.Header.PrevHash] = append(m.orphansByParent[blk.Header.PrevHash], hash)
	log.Debugf("queued orphan block %s awaiting parent %s", hash, blk.Header.PrevHash)
}

func (m *Manager) evictOldestOrphanLocked() {
	var oldestHash crypto.Hash
	var oldestTime time.Time
	first := true
	for hash, entry := range m.orphans {
		if first || entry.expiration.Before(oldestTime) {
			oldestHash = hash
			oldestTime = entry.expiration
			first = false
		}
	}
	if !first {
		m.removeOrphanLocked(oldestHash)
	}
}

func (m *Manager) removeOrphanLocked(hash crypto.Hash) {
	entry, ok := m.orphans[hash]
	if !ok {
		return
	}
	delete(m.orphans, hash)
	parent := entry.blk.Header.PrevHash
	siblings := m.orphansByParent[parent]
	for i, h := range siblings {
		if h == hash {
			m.orphansByParent[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(m.orphansByParent[parent]) == 0 {
		delete(m.orphansByParent, parent)
	}
}

// resolveOrphansOf re-submits every orphan waiting on parentHash now that it
// has just been indexed, letting a chain of orphans unwind one parent at a
// time via SubmitBlock's own recursion through this same call.
func (m *Manager) resolveOrphansOf(parentHash crypto.Hash) {
	waiting := append([]crypto.Hash(nil), m.orphansByParent[parentHash]...)
	for _, hash := range waiting {
		entry, ok := m.orphans[hash]
		if !ok {
			continue
		}
		m.removeOrphanLocked(hash)
		if time.Now().After(entry.expiration) {
			continue
		}
		if err := m.submitBlockLocked(entry.blk, "orphan-resolution"); err != nil {
			log.Debugf("resolved orphan %s rejected: %v", hash, err)
		}
	}
}
