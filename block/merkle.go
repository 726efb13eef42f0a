package block

import (
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
)

// MerkleDuplicateLastRule names the odd-level tie-break this implementation
// adopted where spec.md left the rule unpinned (spec.md 9 Open Questions):
// an odd number of nodes at a level duplicates the last node rather than
// promoting it unpaired. It is a consensus parameter, not an implementation
// detail — changing it changes every block hash.
const MerkleDuplicateLastRule = "duplicate-last"

// MerkleRoot computes the binary merkle root over a block's transaction
// hashes in their declared order, transaction 0 being the coinbase
// (spec.md 4.6). An empty transaction list has a zero root.
func MerkleRoot(txs []*txtypes.Transaction) crypto.Hash {
	if len(txs) == 0 {
		return crypto.Hash{}
	}
	level := make([]crypto.Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.ID()
	}
	return merkleLevel(level)
}

func merkleLevel(level []crypto.Hash) crypto.Hash {
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]crypto.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			var buf [2 * crypto.HashSize]byte
			copy(buf[:crypto.HashSize], level[i][:])
			copy(buf[crypto.HashSize:], level[i+1][:])
			next = append(next, crypto.Sum256(buf[:]))
		}
		level = next
	}
	return level[0]
}
