// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package block

import "math/big"

// CompactToBig converts a compact representation of a 256-bit unsigned
// integer, as used for a block header's difficulty bits, to a big.Int
// (spec.md 4.6, 4.9). The format is 1 byte of base-256 exponent followed by
// a 3-byte mantissa: value = mantissa * 256^(exponent-3). It is the standard
// proof-of-work compact encoding, kept bit-for-bit compatible with the
// teacher's own CompactToBig/BigToCompact usage in block validation.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if isNegative {
		bn = bn.Neg(bn)
	}
	return bn
}

// BigToCompact converts a big.Int to the compact representation used for a
// block header's difficulty bits field.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// HashToBig interprets hash as a big-endian 256-bit unsigned integer, for
// comparison against a proof-of-work target. Unlike Bitcoin-family chains,
// this hash has no little-endian display convention to undo.
func HashToBig(hash [32]byte) *big.Int {
	return new(big.Int).SetBytes(hash[:])
}
