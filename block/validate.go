package block

import (
	"time"

	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
	"github.com/pkg/errors"
)

// Block-level rejection taxonomy (spec.md 7). UnknownParent is handled by
// the chain manager, which queues the block as an orphan rather than
// rejecting it outright; every other error here marks the block invalid.
var (
	ErrBadPoW        = errors.New("header hash exceeds target")
	ErrBadMerkleRoot = errors.New("merkle root does not match transactions")
	ErrBadTimestamp  = errors.New("timestamp outside allowed window")
	ErrBadHeight     = errors.New("block_number is not prev.block_number + 1")
	ErrBadPrevHash   = errors.New("prev_hash does not match claimed parent")
	ErrBadDifficulty = errors.New("difficulty bits out of range")
	ErrEmptyBlock    = errors.New("block has no transactions")
	ErrNotCoinbase   = errors.New("first transaction is not a coinbase")
	ErrExtraCoinbase = errors.New("coinbase transaction is not unique")
)

// PrevBlockInfo is the minimal context about the chain tip a header needs
// to validate against (spec.md 4.6 invariants).
type PrevBlockInfo struct {
	Hash        crypto.Hash
	BlockNumber uint64
	MedianTime  int64 // median of the last MedianTimeBlocks timestamps
}

// CheckHeaderSanity validates everything about a header that does not
// require chain context: proof-of-work range and the nonce/bits relation
// (spec.md 4.6 invariant 4, "H(header) <= target(difficulty)").
func CheckHeaderSanity(h *Header, params *config.NetworkParams) error {
	target := CompactToBig(h.Bits)
	if target.Sign() <= 0 || target.Cmp(params.PowLimit) > 0 {
		return ErrBadDifficulty
	}
	hash := h.Hash()
	hashNum := HashToBig(hash)
	if hashNum.Cmp(target) > 0 {
		return ErrBadPoW
	}
	return nil
}

// CheckHeaderContextual validates a header against its claimed parent
// (spec.md 4.6 invariants 1-2).
func CheckHeaderContextual(h *Header, prev *PrevBlockInfo, params *config.NetworkParams, now time.Time) error {
	if h.PrevHash != prev.Hash {
		return ErrBadPrevHash
	}
	if h.BlockNumber != prev.BlockNumber+1 {
		return ErrBadHeight
	}
	if h.Timestamp <= prev.MedianTime {
		return ErrBadTimestamp
	}
	if h.Timestamp > now.Add(params.MaxTimestampDrift).Unix() {
		return ErrBadTimestamp
	}
	return nil
}

// CheckBody validates the parts of a block that depend on its transaction
// list but not on account state: coinbase position/uniqueness and the
// merkle root (spec.md 4.6 invariants 3, 5).
func CheckBody(b *Block) error {
	if len(b.Transactions) == 0 {
		return ErrEmptyBlock
	}
	if b.Transactions[0].Type != txtypes.TypeCoinbase {
		return ErrNotCoinbase
	}
	for _, tx := range b.Transactions[1:] {
		if tx.Type == txtypes.TypeCoinbase {
			return ErrExtraCoinbase
		}
	}
	if MerkleRoot(b.Transactions) != b.Header.MerkleRoot {
		return ErrBadMerkleRoot
	}
	return nil
}
