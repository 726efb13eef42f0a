package state

import (
	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/Hamza1s34/Qbitcoin/store"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
	"github.com/pkg/errors"
)

// ErrNoWriteSet is returned by RevertBlock when asked to undo a block the
// store has no write-set for (spec.md 4.4).
var ErrNoWriteSet = errors.New("state: no write-set recorded for block")

// ApplyTransaction runs the full basic+stateful validation pipeline for a
// single transaction against view and, on success, leaves view mutated
// (spec.md 4.4 "apply_transaction"). Failure leaves view untouched: the
// transaction's mutations are staged on a throwaway child overlay and only
// merged in on success.
func ApplyTransaction(view ledger.AccountView, tx *txtypes.Transaction, params *config.NetworkParams, ctx *txtypes.Context) error {
	if err := tx.BasicValidate(params); err != nil {
		return err
	}
	child := newTxOverlay(view)
	if err := tx.StateValidateAndApply(child, ctx); err != nil {
		return err
	}
	child.mergeInto(view)
	return nil
}

// ApplyBlock runs apply_transaction for the coinbase followed by every
// other transaction in a block, in order, against a fresh Overlay over
// backing (spec.md 4.4 "apply_block"). On the first failing transaction the
// whole block is rejected and nil, err is returned; backing is never
// touched because the overlay's writes only land in memory until the caller
// stages them with StageInto and commits the batch (normally the chain
// manager, bundled with its own block-index bookkeeping into one atomic
// batch).
func ApplyBlock(backing *store.Store, blk *block.Block, params *config.NetworkParams, subsidy uint64) (*Overlay, error) {
	if err := block.CheckBody(blk); err != nil {
		return nil, err
	}

	var feeSum uint64
	for _, tx := range blk.Transactions[1:] {
		feeSum += tx.Fee
	}

	overlay := New(backing, blk.Header.BlockNumber, blk.Header.Timestamp)
	for i, tx := range blk.Transactions {
		ctx := &txtypes.Context{
			BlockHeight:    blk.Header.BlockNumber,
			BlockTimestamp: blk.Header.Timestamp,
			TxIndex:        i,
			Subsidy:        subsidy,
			FeeSum:         feeSum,
		}
		if err := ApplyTransaction(overlay, tx, params, ctx); err != nil {
			return nil, errors.Wrapf(err, "applying transaction %d (%s)", i, tx.Type)
		}
	}
	return overlay, nil
}

// RevertBlock restores every key the block at hash touched to its value
// from immediately before the block was applied, the exact inverse of
// ApplyBlock's commit, using the write-set recorded alongside it (spec.md
// 4.4 "revert_block", 8 property 8). It commits its own batch holding only
// the write-set's keys and the write-set's removal; the block's index
// entries (height index, chain tip) are not touched here.
func RevertBlock(backing *store.Store, hash crypto.Hash) error {
	entries, ok, err := backing.WriteSet(hash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoWriteSet
	}

	batch := store.NewBatch()
	// Entries are replayed in reverse of capture order so that, if the same
	// key were ever captured more than once across a batch, the earliest
	// (truest) prior value wins. Overlay.captureWriteSet already guards
	// against re-capturing a key, so this is a defensive ordering choice,
	// not a correctness requirement for this package's own writer.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.HadValue {
			batch.PutRaw(e.Key, e.PriorValue)
		} else {
			batch.DeleteRaw(e.Key)
		}
	}
	batch.DeleteWriteSet(hash)
	return backing.CommitBatch(batch)
}
