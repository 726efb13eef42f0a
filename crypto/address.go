// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypto

import (
	"github.com/pkg/errors"
)

// AddressSize is the length of the binary form of an address: one version
// byte, a truncated content hash, and a 4-byte checksum (spec.md 4.1).
const (
	addressHashLen = 20
	checksumLen    = 4
	AddressSize    = 1 + addressHashLen + checksumLen
)

// ErrInvalidAddress is returned when an address fails to decode or its
// checksum does not match.
var ErrInvalidAddress = errors.New("invalid address encoding")

// AddressVersion selects the network an address belongs to, mirroring the
// network-partition role genesis hash plays on the wire (spec.md 6).
type AddressVersion byte

// Address versions, one per configured network (spec.md 6 network_type).
const (
	AddressVersionMainnet AddressVersion = 0x00
	AddressVersionTestnet AddressVersion = 0x11
	AddressVersionDevnet  AddressVersion = 0x12
)

// Address is the binary identifier of an account, derived deterministically
// from a public key (spec.md 3). Binary form is canonical inside blocks;
// the versioned base58check string form is canonical in user interfaces.
type Address [AddressSize]byte

// AddressOf derives the Address for a public key under the given network
// version byte: version || truncated_hash(public_key) || checksum.
func AddressOf(version AddressVersion, publicKey []byte) Address {
	return AddressFromDigest(version, Sum256(publicKey))
}

// AddressFromDigest builds an address directly from a precomputed 32-byte
// digest rather than a public key. It backs both AddressOf and the
// deterministic derivation of multi-signature account addresses from their
// creating transaction's fields (spec.md 3, MultiSigCreate).
func AddressFromDigest(version AddressVersion, digest Hash) Address {
	var addr Address
	addr[0] = byte(version)
	copy(addr[1:1+addressHashLen], digest[:addressHashLen])

	checksum := checksumOf(addr[:1+addressHashLen])
	copy(addr[1+addressHashLen:], checksum)
	return addr
}

func checksumOf(payload []byte) []byte {
	first := Sum256(payload)
	second := Sum256(first[:])
	return second[:checksumLen]
}

// Version returns the address's network version byte.
func (a Address) Version() AddressVersion {
	return AddressVersion(a[0])
}

// Bytes returns the canonical binary encoding of the address.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// String returns the base58check string form of the address.
func (a Address) String() string {
	return base58Encode(a[:])
}

// IsZero reports whether a is the zero-value address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a base58check address string, validating its
// checksum, and returns the binary address.
func ParseAddress(s string) (Address, error) {
	decoded, err := base58Decode(s)
	if err != nil {
		return Address{}, errors.Wrap(ErrInvalidAddress, err.Error())
	}
	if len(decoded) != AddressSize {
		return Address{}, ErrInvalidAddress
	}
	var addr Address
	copy(addr[:], decoded)

	wantChecksum := checksumOf(addr[:1+addressHashLen])
	gotChecksum := addr[1+addressHashLen:]
	for i := range wantChecksum {
		if wantChecksum[i] != gotChecksum[i] {
			return Address{}, ErrInvalidAddress
		}
	}
	return addr, nil
}

// AddressFromBytes reinterprets raw canonical bytes (e.g. read off the wire
// inside a block) as an Address without re-deriving or re-checking the
// checksum; callers that received the bytes from an untrusted source should
// prefer ParseAddress applied to the string form, or explicitly re-derive
// via AddressOf when a public key is available.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return Address{}, ErrInvalidAddress
	}
	var addr Address
	copy(addr[:], b)
	return addr, nil
}
