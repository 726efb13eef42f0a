package store

import (
	"math/big"

	"github.com/Hamza1s34/Qbitcoin/codec"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
)

// BlockStatus records a header's validity disposition in the block index,
// so a branch that failed validation during a rolled-back reorg is never
// reconsidered (spec.md 4.8 step 5, "permanently invalid").
type BlockStatus uint8

// Block statuses.
const (
	StatusValid BlockStatus = iota
	StatusInvalid
	StatusOrphan
)

// BlockMetaData is the chain-index entry for one header: enough to drive
// fork choice and traversal without re-reading the block body from the
// block file (spec.md 4.8).
type BlockMetaData struct {
	ParentHash           crypto.Hash
	BlockNumber          uint64
	Timestamp            int64
	Bits                 uint32
	CumulativeDifficulty *big.Int
	Status               BlockStatus
}

func encodeBlockMetaData(m BlockMetaData) []byte {
	w := codec.NewWriter()
	w.FixedBytes(m.ParentHash[:])
	w.Uint64(m.BlockNumber)
	w.Int64(m.Timestamp)
	w.Uint32(m.Bits)
	diff := m.CumulativeDifficulty
	if diff == nil {
		diff = big.NewInt(0)
	}
	w.VarBytes(diff.Bytes())
	w.Uint8(uint8(m.Status))
	return w.Bytes()
}

func decodeBlockMetaData(data []byte) (BlockMetaData, error) {
	r := codec.NewReader(data)
	var m BlockMetaData
	parentHash := r.FixedBytes(crypto.HashSize)
	m.BlockNumber = r.Uint64()
	m.Timestamp = r.Int64()
	m.Bits = r.Uint32()
	diffBytes := r.VarBytes()
	m.Status = BlockStatus(r.Uint8())
	if err := r.Finish(); err != nil {
		return BlockMetaData{}, err
	}
	copy(m.ParentHash[:], parentHash)
	m.CumulativeDifficulty = new(big.Int).SetBytes(diffBytes)
	return m, nil
}

// BlockLocation is the (file, offset, length) triple the block-file writer
// returns for an appended block (spec.md 4.3).
type BlockLocation struct {
	FileID uint32
	Offset uint32
	Length uint32
}

func encodeBlockLocation(loc BlockLocation) []byte {
	w := codec.NewWriter()
	w.Uint32(loc.FileID)
	w.Uint32(loc.Offset)
	w.Uint32(loc.Length)
	return w.Bytes()
}

func decodeBlockLocation(data []byte) (BlockLocation, error) {
	r := codec.NewReader(data)
	var loc BlockLocation
	loc.FileID = r.Uint32()
	loc.Offset = r.Uint32()
	loc.Length = r.Uint32()
	if err := r.Finish(); err != nil {
		return BlockLocation{}, err
	}
	return loc, nil
}

// WriteSetEntry is one (key, prior value) pair captured before a block's
// mutations are applied, so revert_block can restore it exactly (spec.md
// 4.4, 8 property 8). HadValue false means the key did not exist before
// the block and must be deleted on revert; PriorValue is then unset.
type WriteSetEntry struct {
	Key        []byte
	PriorValue []byte
	HadValue   bool
}

func encodeWriteSet(entries []WriteSetEntry) []byte {
	w := codec.NewWriter()
	w.Uint32(uint32(len(entries)))
	for _, e := range entries {
		w.VarBytes(e.Key)
		w.Bool(e.HadValue)
		if e.HadValue {
			w.VarBytes(e.PriorValue)
		}
	}
	return w.Bytes()
}

func decodeWriteSet(data []byte) ([]WriteSetEntry, error) {
	r := codec.NewReader(data)
	n := r.Uint32()
	entries := make([]WriteSetEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var e WriteSetEntry
		e.Key = r.VarBytes()
		e.HadValue = r.Bool()
		if e.HadValue {
			e.PriorValue = r.VarBytes()
		}
		entries = append(entries, e)
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ForkState persists enough of an in-flight reorg to resume it after a crash
// (spec.md 4.8 step 3).
type ForkState struct {
	Initiator crypto.Hash
	ForkPoint crypto.Hash
	OldPath   []crypto.Hash // ancestor -> old tip
	NewPath   []crypto.Hash // ancestor -> new tip
	OldCursor uint32        // blocks already reverted from OldPath
	NewCursor uint32        // blocks already applied from NewPath
}

func encodeForkState(f ForkState) []byte {
	w := codec.NewWriter()
	w.FixedBytes(f.Initiator[:])
	w.FixedBytes(f.ForkPoint[:])
	encodeHashList(w, f.OldPath)
	encodeHashList(w, f.NewPath)
	w.Uint32(f.OldCursor)
	w.Uint32(f.NewCursor)
	return w.Bytes()
}

func decodeForkState(data []byte) (ForkState, error) {
	r := codec.NewReader(data)
	var f ForkState
	initiator := r.FixedBytes(crypto.HashSize)
	forkPoint := r.FixedBytes(crypto.HashSize)
	f.OldPath = decodeHashList(r)
	f.NewPath = decodeHashList(r)
	f.OldCursor = r.Uint32()
	f.NewCursor = r.Uint32()
	if err := r.Finish(); err != nil {
		return ForkState{}, err
	}
	copy(f.Initiator[:], initiator)
	copy(f.ForkPoint[:], forkPoint)
	return f, nil
}

func encodeHashList(w *codec.Writer, hashes []crypto.Hash) {
	w.Uint32(uint32(len(hashes)))
	for _, h := range hashes {
		w.FixedBytes(h[:])
	}
}

func decodeHashList(r *codec.Reader) []crypto.Hash {
	n := r.Uint32()
	out := make([]crypto.Hash, 0, n)
	for i := uint32(0); i < n; i++ {
		b := r.FixedBytes(crypto.HashSize)
		var h crypto.Hash
		copy(h[:], b)
		out = append(out, h)
	}
	return out
}

// encodeAccountState/decodeAccountState persist ledger.AccountState, the
// value half of the 0x01 address -> AccountState mapping (spec.md 6).
func encodeAccountState(acc ledger.AccountState) []byte {
	w := codec.NewWriter()
	w.Uint64(acc.Balance)
	w.Uint64(acc.Nonce)

	w.Uint32(uint32(len(acc.TokenBalances)))
	for _, hash := range sortedHashKeys(acc.TokenBalances) {
		w.FixedBytes(hash[:])
		w.Uint64(acc.TokenBalances[hash])
	}

	w.Uint32(uint32(len(acc.UsedKeys)))
	for _, h := range sortedHashSetKeys(acc.UsedKeys) {
		w.FixedBytes(h[:])
	}

	w.Uint32(uint32(len(acc.DelegatedKeys)))
	for _, h := range sortedHashKeys(acc.DelegatedKeys) {
		w.FixedBytes(h[:])
		w.Uint8(uint8(acc.DelegatedKeys[h]))
	}
	return w.Bytes()
}

func decodeAccountState(data []byte) (ledger.AccountState, error) {
	r := codec.NewReader(data)
	var acc ledger.AccountState
	acc.Balance = r.Uint64()
	acc.Nonce = r.Uint64()

	tokenCount := r.Uint32()
	if tokenCount > 0 {
		acc.TokenBalances = make(map[crypto.Hash]uint64, tokenCount)
		for i := uint32(0); i < tokenCount; i++ {
			h := r.FixedBytes(crypto.HashSize)
			bal := r.Uint64()
			var hash crypto.Hash
			copy(hash[:], h)
			acc.TokenBalances[hash] = bal
		}
	}

	usedCount := r.Uint32()
	if usedCount > 0 {
		acc.UsedKeys = make(map[crypto.Hash]struct{}, usedCount)
		for i := uint32(0); i < usedCount; i++ {
			h := r.FixedBytes(crypto.HashSize)
			var hash crypto.Hash
			copy(hash[:], h)
			acc.UsedKeys[hash] = struct{}{}
		}
	}

	delegatedCount := r.Uint32()
	if delegatedCount > 0 {
		acc.DelegatedKeys = make(map[crypto.Hash]ledger.AccessType, delegatedCount)
		for i := uint32(0); i < delegatedCount; i++ {
			h := r.FixedBytes(crypto.HashSize)
			flags := r.Uint8()
			var hash crypto.Hash
			copy(hash[:], h)
			acc.DelegatedKeys[hash] = ledger.AccessType(flags)
		}
	}

	if err := r.Finish(); err != nil {
		return ledger.AccountState{}, err
	}
	return acc, nil
}

func encodeTokenMeta(meta ledger.TokenMeta) []byte {
	w := codec.NewWriter()
	w.FixedBytes(meta.CreationTxHash[:])
	w.VarString(meta.Symbol)
	w.VarString(meta.Name)
	w.FixedBytes(meta.Owner[:])
	w.Uint8(meta.Decimals)
	w.Uint64(meta.TotalSupply)
	return w.Bytes()
}

func decodeTokenMeta(data []byte) (ledger.TokenMeta, error) {
	r := codec.NewReader(data)
	var meta ledger.TokenMeta
	creationTxHash := r.FixedBytes(crypto.HashSize)
	meta.Symbol = r.VarString()
	meta.Name = r.VarString()
	owner := r.FixedBytes(crypto.AddressSize)
	meta.Decimals = r.Uint8()
	meta.TotalSupply = r.Uint64()
	if err := r.Finish(); err != nil {
		return ledger.TokenMeta{}, err
	}
	copy(meta.CreationTxHash[:], creationTxHash)
	addr, err := crypto.AddressFromBytes(owner)
	if err != nil {
		return ledger.TokenMeta{}, err
	}
	meta.Owner = addr
	return meta, nil
}

func encodeMultiSigMeta(meta ledger.MultiSigMeta) []byte {
	w := codec.NewWriter()
	w.FixedBytes(meta.CreationTxHash[:])
	w.Uint32(uint32(len(meta.Signatories)))
	for _, addr := range meta.Signatories {
		w.FixedBytes(addr[:])
	}
	w.Uint32(uint32(len(meta.Weights)))
	for _, weight := range meta.Weights {
		w.Uint32(weight)
	}
	w.Uint32(meta.Threshold)
	return w.Bytes()
}

func decodeMultiSigMeta(data []byte) (ledger.MultiSigMeta, error) {
	r := codec.NewReader(data)
	var meta ledger.MultiSigMeta
	creationTxHash := r.FixedBytes(crypto.HashSize)
	sigCount := r.Uint32()
	meta.Signatories = make([]crypto.Address, 0, sigCount)
	for i := uint32(0); i < sigCount; i++ {
		addrBytes := r.FixedBytes(crypto.AddressSize)
		if r.Err() != nil {
			break
		}
		addr, err := crypto.AddressFromBytes(addrBytes)
		if err != nil {
			return ledger.MultiSigMeta{}, err
		}
		meta.Signatories = append(meta.Signatories, addr)
	}
	weightCount := r.Uint32()
	meta.Weights = make([]uint32, 0, weightCount)
	for i := uint32(0); i < weightCount; i++ {
		meta.Weights = append(meta.Weights, r.Uint32())
	}
	meta.Threshold = r.Uint32()
	if err := r.Finish(); err != nil {
		return ledger.MultiSigMeta{}, err
	}
	copy(meta.CreationTxHash[:], creationTxHash)
	return meta, nil
}

func encodeMultiSigSpendState(spend ledger.MultiSigSpendState) []byte {
	w := codec.NewWriter()
	w.FixedBytes(spend.MultiSigAddress[:])
	w.Uint32(uint32(len(spend.Outputs)))
	for _, out := range spend.Outputs {
		w.FixedBytes(out.Recipient[:])
		w.Uint64(out.Amount)
	}
	w.Uint64(spend.ExpiryHeight)
	w.Uint32(uint32(len(spend.Votes)))
	for _, addr := range sortedVoteAddresses(spend.Votes) {
		w.FixedBytes(addr[:])
		w.Bool(spend.Votes[addr])
	}
	w.Bool(spend.Executed)
	return w.Bytes()
}

func decodeMultiSigSpendState(data []byte) (ledger.MultiSigSpendState, error) {
	r := codec.NewReader(data)
	var spend ledger.MultiSigSpendState
	msAddr := r.FixedBytes(crypto.AddressSize)
	outCount := r.Uint32()
	spend.Outputs = make([]ledger.Output, 0, outCount)
	for i := uint32(0); i < outCount; i++ {
		recipientBytes := r.FixedBytes(crypto.AddressSize)
		amount := r.Uint64()
		if r.Err() != nil {
			break
		}
		recipient, err := crypto.AddressFromBytes(recipientBytes)
		if err != nil {
			return ledger.MultiSigSpendState{}, err
		}
		spend.Outputs = append(spend.Outputs, ledger.Output{Recipient: recipient, Amount: amount})
	}
	spend.ExpiryHeight = r.Uint64()
	voteCount := r.Uint32()
	if voteCount > 0 {
		spend.Votes = make(map[crypto.Address]bool, voteCount)
		for i := uint32(0); i < voteCount; i++ {
			addrBytes := r.FixedBytes(crypto.AddressSize)
			approve := r.Bool()
			if r.Err() != nil {
				break
			}
			addr, err := crypto.AddressFromBytes(addrBytes)
			if err != nil {
				return ledger.MultiSigSpendState{}, err
			}
			spend.Votes[addr] = approve
		}
	}
	spend.Executed = r.Bool()
	if err := r.Finish(); err != nil {
		return ledger.MultiSigSpendState{}, err
	}
	addr, err := crypto.AddressFromBytes(msAddr)
	if err != nil {
		return ledger.MultiSigSpendState{}, err
	}
	spend.MultiSigAddress = addr
	return spend, nil
}
