package store

import (
	"path/filepath"

	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/Hamza1s34/Qbitcoin/logs"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var log, _ = logs.Get(logs.SubsystemTags.STOR)

// ErrNotFound is the error callers outside this package (the chain
// manager's block lookups) return for an absent record; the typed getters
// here report absence with the (value, ok) form instead.
var ErrNotFound = errors.New("store: not found")

// Store is the node's persistence layer: an ordered key-value index
// (goleveldb, the same LSM-style store family the teacher's ffldb driver
// wraps) fronting a set of append-only rotated block files (spec.md 4.3).
type Store struct {
	db     *leveldb.DB
	blocks *blockFileStore
}

// Open opens or creates the store rooted at dataDir, recovering the block
// file write cursor from the KV-recorded chain tip if one exists (spec.md
// 4.3 "Recovery").
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "index")
	db, err := leveldb.OpenFile(dbPath, &opt.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening leveldb index")
	}

	cursor, err := recoverWriteCursor(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	blocks, err := openBlockFileStore(filepath.Join(dataDir, "blocks"), cursor)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, blocks: blocks}, nil
}

// recoverWriteCursor derives the block-file write cursor from the highest
// indexed block location, since the cursor itself is not separately
// persisted; if the tip is present it is one past the furthest location any
// indexed block (tip or side branch) occupies, otherwise it is the zero
// cursor for a fresh store.
func recoverWriteCursor(db *leveldb.DB) (writeCursor, error) {
	tipData, err := db.Get(ChainTipKey(), nil)
	if err == leveldb.ErrNotFound {
		return writeCursor{}, nil
	}
	if err != nil {
		return writeCursor{}, errors.Wrap(err, "reading chain tip during recovery")
	}
	var tip crypto.Hash
	copy(tip[:], tipData)

	locData, err := db.Get(BlockLocKey(tip), nil)
	if err == leveldb.ErrNotFound {
		// Tip is indexed but its location is missing: treat as fresh, the
		// caller is responsible for re-syncing from peers.
		return writeCursor{}, nil
	}
	if err != nil {
		return writeCursor{}, errors.Wrap(err, "reading tip block location during recovery")
	}
	loc, err := decodeBlockLocation(locData)
	if err != nil {
		return writeCursor{}, errors.Wrap(err, "decoding tip block location during recovery")
	}
	cur := writeCursor{curFileNum: loc.FileID, curOffset: loc.Offset + loc.Length}
	iter := db.NewIterator(nil, nil)
	defer iter.Release()
	for ok := iter.Seek([]byte{prefixBlockLoc}); ok && iter.Key()[0] == prefixBlockLoc; ok = iter.Next() {
		other, err := decodeBlockLocation(iter.Value())
		if err != nil {
			return writeCursor{}, errors.Wrap(err, "decoding block location during recovery")
		}
		end := other.Offset + other.Length
		if other.FileID > cur.curFileNum || (other.FileID == cur.curFileNum && end > cur.curOffset) {
			cur = writeCursor{curFileNum: other.FileID, curOffset: end}
		}
	}
	return cur, iter.Error()
}

// VerifyTipConsistency checks that the chain tip's block bytes are actually
// readable from the block file it claims; if they are not (the file was
// truncated by a crash mid-write), it walks parent links back to the
// nearest block whose bytes are readable, points the chain tip at it, and
// reports that block's height so the caller can resume sync from peers
// (spec.md 4.3 "Recovery"). Only the chain-tip pointer is rewritten: the
// height-index entries, block metadata, write-sets and account state left
// by the unreadable blocks stay as they are.
func (s *Store) VerifyTipConsistency() (consistentHeight uint64, rewound bool, err error) {
	tip, ok, err := s.ChainTip()
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	meta, ok, err := s.BlockMeta(tip)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, errors.New("chain tip has no block metadata")
	}
	loc, ok, err := s.BlockLocation(tip)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, errors.New("chain tip has no block location")
	}
	if _, err := s.blocks.readBlock(loc); err == nil {
		return meta.BlockNumber, false, nil
	}

	log.Warnf("block file truncated short of indexed tip %s, rewinding", tip)
	height := meta.BlockNumber
	hash := tip
	for {
		parentMeta, ok, err := s.BlockMeta(hash)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			break
		}
		if loc, locOK, _ := s.BlockLocation(hash); locOK {
			if _, readErr := s.blocks.readBlock(loc); readErr == nil {
				break
			}
		}
		hash = parentMeta.ParentHash
		if height == 0 {
			break
		}
		height--
	}
	batch := NewBatch()
	batch.PutChainTip(hash)
	if err := s.CommitBatch(batch); err != nil {
		return 0, false, err
	}
	return height, true, nil
}

// Close releases the KV handle and the open block file.
func (s *Store) Close() error {
	if err := s.blocks.close(); err != nil {
		return err
	}
	return s.db.Close()
}

// AppendBlockBytes writes the canonical block encoding to the current block
// file, rotating first if needed, and returns where it landed.
func (s *Store) AppendBlockBytes(data []byte) (BlockLocation, error) {
	return s.blocks.writeBlock(data)
}

// ReadBlockBytes reads back a block previously appended at loc.
func (s *Store) ReadBlockBytes(loc BlockLocation) ([]byte, error) {
	return s.blocks.readBlock(loc)
}

// GetRaw returns the raw bytes at key, used by the state overlay to
// snapshot an arbitrary key's prior value into a write-set entry without
// needing to know its record type (spec.md 4.4).
func (s *Store) GetRaw(key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetAccount returns addr's persisted state, or the zero value if it has
// never been written (spec.md 4.4 "get_account").
func (s *Store) GetAccount(addr crypto.Address) (ledger.AccountState, bool, error) {
	data, ok, err := s.GetRaw(AccountKey(addr))
	if err != nil || !ok {
		return ledger.AccountState{}, ok, err
	}
	acc, err := decodeAccountState(data)
	if err != nil {
		return ledger.AccountState{}, false, err
	}
	return acc, true, nil
}

// GetToken returns the metadata for a token created by CreationTxHash hash.
func (s *Store) GetToken(hash crypto.Hash) (ledger.TokenMeta, bool, error) {
	data, ok, err := s.GetRaw(TokenKey(hash))
	if err != nil || !ok {
		return ledger.TokenMeta{}, ok, err
	}
	meta, err := decodeTokenMeta(data)
	if err != nil {
		return ledger.TokenMeta{}, false, err
	}
	return meta, true, nil
}

// GetMultiSigMeta returns the signatory set registered at a multisig address.
func (s *Store) GetMultiSigMeta(addr crypto.Address) (ledger.MultiSigMeta, bool, error) {
	data, ok, err := s.GetRaw(MultiSigMetaKey(addr))
	if err != nil || !ok {
		return ledger.MultiSigMeta{}, ok, err
	}
	meta, err := decodeMultiSigMeta(data)
	if err != nil {
		return ledger.MultiSigMeta{}, false, err
	}
	return meta, true, nil
}

// GetMultiSigSpend returns a pending or executed spend proposal by its
// transaction hash.
func (s *Store) GetMultiSigSpend(hash crypto.Hash) (ledger.MultiSigSpendState, bool, error) {
	data, ok, err := s.GetRaw(MultiSigSpendKey(hash))
	if err != nil || !ok {
		return ledger.MultiSigSpendState{}, ok, err
	}
	spend, err := decodeMultiSigSpendState(data)
	if err != nil {
		return ledger.MultiSigSpendState{}, false, err
	}
	return spend, true, nil
}

// BlockMeta returns the chain-index entry for a header hash.
func (s *Store) BlockMeta(hash crypto.Hash) (BlockMetaData, bool, error) {
	data, ok, err := s.GetRaw(BlockMetaKey(hash))
	if err != nil || !ok {
		return BlockMetaData{}, ok, err
	}
	meta, err := decodeBlockMetaData(data)
	if err != nil {
		return BlockMetaData{}, false, err
	}
	return meta, true, nil
}

// BlockLocation returns where a block's bytes live in the block files.
func (s *Store) BlockLocation(hash crypto.Hash) (BlockLocation, bool, error) {
	data, ok, err := s.GetRaw(BlockLocKey(hash))
	if err != nil || !ok {
		return BlockLocation{}, ok, err
	}
	loc, err := decodeBlockLocation(data)
	if err != nil {
		return BlockLocation{}, false, err
	}
	return loc, true, nil
}

// HeaderHashAtHeight resolves the canonical header hash at a block number.
func (s *Store) HeaderHashAtHeight(height uint64) (crypto.Hash, bool, error) {
	data, ok, err := s.GetRaw(HeightIndexKey(height))
	if err != nil || !ok {
		return crypto.Hash{}, ok, err
	}
	var h crypto.Hash
	copy(h[:], data)
	return h, true, nil
}

// ChainTip returns the current canonical tip's header hash.
func (s *Store) ChainTip() (crypto.Hash, bool, error) {
	data, ok, err := s.GetRaw(ChainTipKey())
	if err != nil || !ok {
		return crypto.Hash{}, ok, err
	}
	var h crypto.Hash
	copy(h[:], data)
	return h, true, nil
}

// WriteSet returns the recorded prior-value list for a committed block, the
// input to revert_block (spec.md 4.4).
func (s *Store) WriteSet(hash crypto.Hash) ([]WriteSetEntry, bool, error) {
	data, ok, err := s.GetRaw(WriteSetKey(hash))
	if err != nil || !ok {
		return nil, ok, err
	}
	entries, err := decodeWriteSet(data)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// GetForkState returns the in-flight reorg record, if a crash interrupted one
// (spec.md 4.8 step 3).
func (s *Store) GetForkState() (ForkState, bool, error) {
	data, ok, err := s.GetRaw(ForkStateKey())
	if err != nil || !ok {
		return ForkState{}, ok, err
	}
	f, err := decodeForkState(data)
	if err != nil {
		return ForkState{}, false, err
	}
	return f, true, nil
}
