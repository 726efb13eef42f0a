package store

import (
	"bytes"
	"sort"

	"github.com/Hamza1s34/Qbitcoin/crypto"
)

// sortedHashKeys returns m's keys in ascending byte order so that
// encodeAccountState (and friends) produce a deterministic byte string
// regardless of Go's randomized map iteration order, so the same account
// state always encodes to the same stored bytes.
func sortedHashKeys[V any](m map[crypto.Hash]V) []crypto.Hash {
	out := make([]crypto.Hash, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func sortedHashSetKeys(m map[crypto.Hash]struct{}) []crypto.Hash {
	out := make([]crypto.Hash, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func sortedVoteAddresses(m map[crypto.Address]bool) []crypto.Address {
	out := make([]crypto.Address, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
