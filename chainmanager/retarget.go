package chainmanager

import (
	"math/big"

	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/store"
)

// maxWork is 2^256, the numerator of the "work done to find a block at this
// target" metric used for cumulative-difficulty fork choice (spec.md 4.8
// "highest cumulative difficulty").
var maxWork = new(big.Int).Lsh(big.NewInt(1), 256)

// workFromBits converts a header's compact difficulty bits into the amount
// of expected work it represents, floor(2^256 / (target+1)). Lower targets
// (harder difficulty) yield more work; this, summed along a chain, is the
// cumulative difficulty the fork-choice rule compares.
func workFromBits(bits uint32) *big.Int {
	target := block.CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(maxWork, denom)
}

// nextDifficultyBits implements spec.md 4.8's proportional retarget: every
// RetargetWindow blocks, compare the actual elapsed time of the last
// NMeasurement blocks to their target elapsed time, and scale the current
// target by 1 + kp*(actual/target - 1), clamped to [RetargetClampLow,
// RetargetClampHigh]. Outside a retarget boundary, difficulty carries over
// unchanged from the parent.
func (m *Manager) nextDifficultyBits(parent store.BlockMetaData) (uint32, error) {
	nextHeight := parent.BlockNumber + 1
	params := m.params
	if params.RetargetWindow == 0 || nextHeight%params.RetargetWindow != 0 || nextHeight < params.NMeasurement {
		return parent.Bits, nil
	}

	newest := parent
	oldest := parent
	for i := uint64(0); i < params.NMeasurement-1; i++ {
		meta, ok, err := m.store.BlockMeta(oldest.ParentHash)
		if err != nil {
			return 0, err
		}
		if !ok {
			return parent.Bits, nil
		}
		oldest = meta
	}

	actualTimespan := newest.Timestamp - oldest.Timestamp
	if actualTimespan <= 0 {
		actualTimespan = 1
	}
	targetTimespan := int64(params.NMeasurement-1) * int64(params.BlockTimeTarget.Seconds())
	if targetTimespan <= 0 {
		targetTimespan = 1
	}

	timeRatio := float64(actualTimespan) / float64(targetTimespan)
	adjustment := 1 + params.RetargetGainKp*(timeRatio-1)
	if adjustment < params.RetargetClampLow {
		adjustment = params.RetargetClampLow
	}
	if adjustment > params.RetargetClampHigh {
		adjustment = params.RetargetClampHigh
	}

	oldTarget := block.CompactToBig(parent.Bits)
	scaled := new(big.Float).Mul(new(big.Float).SetInt(oldTarget), big.NewFloat(adjustment))
	newTarget, _ := scaled.Int(nil)
	if newTarget.Sign() <= 0 {
		newTarget = big.NewInt(1)
	}
	if newTarget.Cmp(params.PowLimit) > 0 {
		newTarget = params.PowLimit
	}
	return block.BigToCompact(newTarget), nil
}

// medianTime returns the median timestamp of the MedianTimeBlocks
// ancestors ending at (and including) the block described by meta, the
// context CheckHeaderContextual needs to reject a stalled or backdated
// timestamp (spec.md 4.6 invariant 2).
func (m *Manager) medianTime(meta store.BlockMetaData) (int64, error) {
	n := m.params.MedianTimeBlocks
	if n <= 0 {
		n = 1
	}
	timestamps := make([]int64, 0, n)
	cur := meta
	for {
		timestamps = append(timestamps, cur.Timestamp)
		if len(timestamps) >= n {
			break
		}
		if cur.ParentHash.IsZero() {
			break
		}
		parent, ok, err := m.store.BlockMeta(cur.ParentHash)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		cur = parent
	}
	sortInt64(timestamps)
	return timestamps[len(timestamps)/2], nil
}

func sortInt64(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
