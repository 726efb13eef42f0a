package chainmanager

import (
	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/state"
	"github.com/Hamza1s34/Qbitcoin/store"
	"github.com/pkg/errors"
)

// reorgTo switches the canonical chain from the current tip to candidateTip
// (spec.md 4.8 "Reorg algorithm"). Called with m.mu already held.
func (m *Manager) reorgTo(candidateTip crypto.Hash) error {
	oldTip, _, err := m.tipLocked()
	if err != nil {
		return err
	}

	forkPoint, oldPath, newPath, err := m.findForkPoint(oldTip, candidateTip)
	if err != nil {
		return err
	}

	depth := uint64(len(oldPath))
	if uint64(len(newPath)) > depth {
		depth = uint64(len(newPath))
	}
	if m.params.ReorgLimit > 0 && depth > m.params.ReorgLimit {
		return ErrReorgTooDeep
	}

	forkState := store.ForkState{
		Initiator: candidateTip,
		ForkPoint: forkPoint,
		OldPath:   oldPath,
		NewPath:   newPath,
	}
	fsBatch := store.NewBatch()
	fsBatch.PutForkState(forkState)
	if err := m.store.CommitBatch(fsBatch); err != nil {
		return err
	}

	if err := m.revertPath(oldPath); err != nil {
		return errors.Wrap(err, "reverting old path")
	}

	appliedCount, applyErr := m.applyPath(newPath)
	if applyErr == nil {
		clear := store.NewBatch()
		clear.ClearForkState()
		if err := m.store.CommitBatch(clear); err != nil {
			return err
		}
		m.tipSeq++
		m.pool.Reevaluate()
		return nil
	}

	// A block along the new path failed: mark it (and everything the
	// caller has not yet seen past it) invalid, undo whatever prefix of
	// newPath did apply, and restore the old chain exactly (spec.md 4.8
	// step 5).
	offending := newPath[appliedCount]
	offendingMeta, _, _ := m.store.BlockMeta(offending)
	m.markInvalidLocked(offending, offendingMeta.ParentHash, offendingMeta.BlockNumber, offendingMeta.CumulativeDifficulty)

	if err := m.revertPath(newPath[:appliedCount]); err != nil {
		return errors.Wrap(err, "rolling back partially-applied new path")
	}
	if _, err := m.applyPath(oldPath); err != nil {
		return errors.Wrap(err, "restoring old path after failed reorg")
	}

	batch := store.NewBatch()
	batch.PutChainTip(oldTip)
	batch.ClearForkState()
	if err := m.store.CommitBatch(batch); err != nil {
		return err
	}
	m.pool.Reevaluate()
	return errors.Wrapf(applyErr, "reorg to %s rolled back, branch marked invalid at %s", candidateTip, offending)
}

// findForkPoint walks parent pointers back from both tips to the lowest
// common ancestor, returning it plus old_path (ancestor->current, in
// ascending height order) and new_path (ancestor->candidate, ascending) as
// spec.md 4.8 step 1-2 describe.
func (m *Manager) findForkPoint(oldTip, candidateTip crypto.Hash) (forkPoint crypto.Hash, oldPath, newPath []crypto.Hash, err error) {
	oldAncestors := map[crypto.Hash]bool{}
	cur := oldTip
	for {
		oldAncestors[cur] = true
		meta, ok, err := m.store.BlockMeta(cur)
		if err != nil {
			return crypto.Hash{}, nil, nil, err
		}
		if !ok || meta.BlockNumber == 0 {
			break
		}
		cur = meta.ParentHash
	}

	var newRev []crypto.Hash
	cur = candidateTip
	for {
		if oldAncestors[cur] {
			forkPoint = cur
			break
		}
		newRev = append(newRev, cur)
		meta, ok, err := m.store.BlockMeta(cur)
		if err != nil {
			return crypto.Hash{}, nil, nil, err
		}
		if !ok {
			return crypto.Hash{}, nil, nil, errors.New("chainmanager: candidate branch has no common ancestor with current chain")
		}
		if meta.BlockNumber == 0 {
			return crypto.Hash{}, nil, nil, errors.New("chainmanager: candidate branch has no common ancestor with current chain")
		}
		cur = meta.ParentHash
	}
	newPath = reverseHashes(newRev)

	var oldRev []crypto.Hash
	cur = oldTip
	for cur != forkPoint {
		oldRev = append(oldRev, cur)
		meta, ok, err := m.store.BlockMeta(cur)
		if err != nil {
			return crypto.Hash{}, nil, nil, err
		}
		if !ok {
			break
		}
		cur = meta.ParentHash
	}
	oldPath = reverseHashes(oldRev)

	return forkPoint, oldPath, newPath, nil
}

// revertPath undoes path's blocks from the last back to the first, the
// order required since a later block may have overwritten a key an earlier
// one also touched (spec.md 4.8 step 4).
func (m *Manager) revertPath(path []crypto.Hash) error {
	for i := len(path) - 1; i >= 0; i-- {
		if err := state.RevertBlock(m.store, path[i]); err != nil {
			return errors.Wrapf(err, "reverting block %s", path[i])
		}
	}
	return nil
}

// applyPath applies path's blocks in order against the store's current
// state, stopping at the first failure (spec.md 4.8 step 5). It returns how
// many blocks succeeded so the caller can identify the offending block and
// unwind exactly that much.
func (m *Manager) applyPath(path []crypto.Hash) (int, error) {
	for i, hash := range path {
		blk, err := m.blockByHashLocked(hash)
		if err != nil {
			return i, err
		}
		meta, ok, err := m.store.BlockMeta(hash)
		if err != nil {
			return i, err
		}
		if !ok {
			return i, errors.Errorf("chainmanager: missing metadata for %s during reorg apply", hash)
		}

		subsidy := block.Subsidy(blk.Header.BlockNumber, m.params.InitialSubsidy, m.params.HalvingInterval)
		overlay, err := state.ApplyBlock(m.store, blk, m.params, subsidy)
		if err != nil {
			return i, err
		}

		batch := store.NewBatch()
		overlay.StageInto(batch)
		batch.PutWriteSet(hash, overlay.WriteSet())
		meta.Status = store.StatusValid
		batch.PutBlockMeta(hash, meta)
		batch.PutHeightIndex(blk.Header.BlockNumber, hash)
		if i == len(path)-1 {
			batch.PutChainTip(hash)
		}
		if err := m.store.CommitBatch(batch); err != nil {
			return i, err
		}
		m.pool.RemoveConfirmed(blk.Transactions[1:])
	}
	return len(path), nil
}

func reverseHashes(s []crypto.Hash) []crypto.Hash {
	out := make([]crypto.Hash, len(s))
	for i, h := range s {
		out[len(s)-1-i] = h
	}
	return out
}
