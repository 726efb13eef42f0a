// Package store implements the two on-disk surfaces a committed chain needs
// (spec.md 4.3, 6): append-only rotated block files, and an ordered
// key-value index over them. The key schema and the block-file rotation
// convention are grounded on the teacher's ffldb driver (blockFilePath,
// maxBlockFileSize, writeCursor.curFileNum/curOffset, handleRollback) layered
// over github.com/syndtr/goleveldb instead of the teacher's own LevelDB fork.
package store

import (
	"encoding/binary"

	"github.com/Hamza1s34/Qbitcoin/crypto"
)

// Key prefixes (spec.md 6). Each is one byte so prefix iteration (used when
// recovering the block-file write cursor) stays a plain byte-range scan.
const (
	prefixAccount      byte = 0x01 // address -> AccountState
	prefixBlockMeta    byte = 0x02 // header_hash -> BlockMetaData
	prefixHeightIndex  byte = 0x03 // block_number (8B BE) -> header_hash
	prefixBlockLoc     byte = 0x04 // header_hash -> (file_id, offset, length)
	prefixToken        byte = 0x05 // token_hash -> TokenMeta
	prefixChainTip     byte = 0x06 // (no suffix) -> header hash
	prefixWriteSet     byte = 0x07 // header_hash -> write-set for revert
	prefixForkState    byte = 0x08 // (no suffix) -> fork state, present only during reorg
	prefixMultiSigMeta byte = 0x09 // address -> MultiSigMeta
	prefixMultiSigVote byte = 0x0a // spend_hash -> MultiSigSpendState
)

// AccountKey is the 0x01 key for an address's AccountState.
func AccountKey(addr crypto.Address) []byte {
	return append([]byte{prefixAccount}, addr[:]...)
}

// BlockMetaKey is the 0x02 key for a header hash's chain-index entry.
func BlockMetaKey(hash crypto.Hash) []byte {
	return append([]byte{prefixBlockMeta}, hash[:]...)
}

// HeightIndexKey is the 0x03 key mapping a block number to its canonical
// header hash.
func HeightIndexKey(height uint64) []byte {
	k := make([]byte, 9)
	k[0] = prefixHeightIndex
	binary.BigEndian.PutUint64(k[1:], height)
	return k
}

// BlockLocKey is the 0x04 key for a header hash's block-file location.
func BlockLocKey(hash crypto.Hash) []byte {
	return append([]byte{prefixBlockLoc}, hash[:]...)
}

// TokenKey is the 0x05 key for a token's metadata.
func TokenKey(hash crypto.Hash) []byte {
	return append([]byte{prefixToken}, hash[:]...)
}

// ChainTipKey is the 0x06 key holding the canonical tip's header hash.
func ChainTipKey() []byte {
	return []byte{prefixChainTip}
}

// WriteSetKey is the 0x07 key for a block's revert write-set.
func WriteSetKey(hash crypto.Hash) []byte {
	return append([]byte{prefixWriteSet}, hash[:]...)
}

// ForkStateKey is the 0x08 key holding an in-flight reorg's checkpoint.
func ForkStateKey() []byte {
	return []byte{prefixForkState}
}

// MultiSigMetaKey is the 0x09 key for a multisig address's signatory set.
func MultiSigMetaKey(addr crypto.Address) []byte {
	return append([]byte{prefixMultiSigMeta}, addr[:]...)
}

// MultiSigSpendKey is the 0x0a key for a pending or executed spend proposal.
func MultiSigSpendKey(spendHash crypto.Hash) []byte {
	return append([]byte{prefixMultiSigVote}, spendHash[:]...)
}
