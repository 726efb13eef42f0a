package store

import (
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/syndtr/goleveldb/leveldb"
)

// Batch accumulates KV mutations for one atomic commit. Every chain
// operation (append block, revert block) is expressed as exactly one batch;
// partial application is forbidden (spec.md 4.3).
type Batch struct {
	b *leveldb.Batch
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{b: new(leveldb.Batch)}
}

// PutRaw stages an arbitrary key/value write, used by revert_block to
// replay a write-set's prior values without re-deriving their record type.
func (b *Batch) PutRaw(key, value []byte) {
	b.b.Put(key, value)
}

// DeleteRaw stages a deletion.
func (b *Batch) DeleteRaw(key []byte) {
	b.b.Delete(key)
}

// PutAccount stages an account state write.
func (b *Batch) PutAccount(addr crypto.Address, acc ledger.AccountState) {
	b.b.Put(AccountKey(addr), encodeAccountState(acc))
}

// PutToken stages a token metadata write.
func (b *Batch) PutToken(hash crypto.Hash, meta ledger.TokenMeta) {
	b.b.Put(TokenKey(hash), encodeTokenMeta(meta))
}

// PutMultiSigMeta stages a multisig signatory-set write.
func (b *Batch) PutMultiSigMeta(addr crypto.Address, meta ledger.MultiSigMeta) {
	b.b.Put(MultiSigMetaKey(addr), encodeMultiSigMeta(meta))
}

// PutMultiSigSpend stages a pending/executed spend proposal write.
func (b *Batch) PutMultiSigSpend(hash crypto.Hash, spend ledger.MultiSigSpendState) {
	b.b.Put(MultiSigSpendKey(hash), encodeMultiSigSpendState(spend))
}

// PutBlockMeta stages a chain-index entry write.
func (b *Batch) PutBlockMeta(hash crypto.Hash, meta BlockMetaData) {
	b.b.Put(BlockMetaKey(hash), encodeBlockMetaData(meta))
}

// PutHeightIndex stages a block_number -> header_hash write.
func (b *Batch) PutHeightIndex(height uint64, hash crypto.Hash) {
	b.b.Put(HeightIndexKey(height), hash[:])
}

// DeleteHeightIndex stages removal of a height index entry. Nothing in the
// module calls it.
func (b *Batch) DeleteHeightIndex(height uint64) {
	b.b.Delete(HeightIndexKey(height))
}

// PutBlockLocation stages a header_hash -> (file, offset, length) write.
func (b *Batch) PutBlockLocation(hash crypto.Hash, loc BlockLocation) {
	b.b.Put(BlockLocKey(hash), encodeBlockLocation(loc))
}

// PutChainTip stages the canonical tip pointer write.
func (b *Batch) PutChainTip(hash crypto.Hash) {
	b.b.Put(ChainTipKey(), hash[:])
}

// PutWriteSet stages a block's write-set for later revert.
func (b *Batch) PutWriteSet(hash crypto.Hash, entries []WriteSetEntry) {
	b.b.Put(WriteSetKey(hash), encodeWriteSet(entries))
}

// DeleteWriteSet stages removal of a block's write-set, which revert_block
// does once it has replayed it. Write-sets of blocks deeper than the reorg
// limit are not removed.
func (b *Batch) DeleteWriteSet(hash crypto.Hash) {
	b.b.Delete(WriteSetKey(hash))
}

// PutForkState stages the in-flight reorg checkpoint write.
func (b *Batch) PutForkState(f ForkState) {
	b.b.Put(ForkStateKey(), encodeForkState(f))
}

// ClearForkState stages removal of the reorg checkpoint once a reorg
// finishes or is fully rolled back.
func (b *Batch) ClearForkState() {
	b.b.Delete(ForkStateKey())
}

// CommitBatch applies every staged mutation atomically.
func (s *Store) CommitBatch(batch *Batch) error {
	return s.db.Write(batch.b, nil)
}
