// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package crypto exposes the post-quantum signing, content-hashing, and
// address-derivation primitives used throughout the node. It is a contract
// boundary (spec.md 4.1): every other package depends only on the functions
// declared here, never on the underlying scheme directly.
package crypto

import (
	"encoding"

	circlsign "github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// scheme is the CRYSTALS-Dilithium (mode3, NIST security level 3) signature
// scheme this chain standardizes on. It is addressed through the generic
// circl sign.Scheme interface rather than mode3's concrete key types, so a
// future scheme swap only touches this one assignment.
var scheme circlsign.Scheme = mode3.Scheme()

// PublicKeySize, SecretKeySize and MaxSignatureSize are the fixed wire sizes
// of the scheme in use (Dilithium3: 1952 byte public key, fixed-length
// signature).
const (
	PublicKeySize    = mode3.PublicKeySize
	SecretKeySize    = mode3.PrivateKeySize
	MaxSignatureSize = mode3.SignatureSize
	HashSize         = 32
)

// Hash is a 256-bit content digest.
type Hash [HashSize]byte

// ErrInvalidPublicKey is returned when a byte slice cannot be parsed as a
// public key of the declared scheme.
var ErrInvalidPublicKey = errors.New("invalid public key encoding")

// ErrInvalidSecretKey is returned when a byte slice cannot be parsed as a
// secret key of the declared scheme.
var ErrInvalidSecretKey = errors.New("invalid secret key encoding")

// Sum256 computes the canonical 256-bit content hash used for both the
// transaction/block signature digest and the proof-of-work header digest.
// It is a Keccak sponge construction (SHA3-256), deterministic and
// side-effect free.
func Sum256(data []byte) Hash {
	return Hash(sha3.Sum256(data))
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the zero-value hash, the sentinel genesis
// blocks use in place of a real parent hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 0, HashSize*2)
	for _, b := range h {
		out = append(out, hextable[b>>4], hextable[b&0x0f])
	}
	return string(out)
}

// Sign signs message under secretKey, returning the scheme's signature
// bytes. secretKey must be the scheme's marshaled private key encoding.
func Sign(secretKey, message []byte) ([]byte, error) {
	sk, err := scheme.UnmarshalBinaryPrivateKey(secretKey)
	if err != nil {
		return nil, ErrInvalidSecretKey
	}
	return scheme.Sign(sk, message, nil), nil
}

// Verify reports whether signature is a valid signature of message under
// publicKey. It is deterministic, side-effect-free, and safe to call
// concurrently from multiple goroutines (spec.md 4.1).
func Verify(publicKey, message, signature []byte) bool {
	pk, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return false
	}
	return scheme.Verify(pk, message, signature, nil)
}

// GenerateKeyPair generates a fresh key pair using the scheme's default
// CSPRNG. It exists for tests and tooling (wallet key management is out of
// core scope per spec.md 1).
func GenerateKeyPair() (publicKey, secretKey []byte, err error) {
	pk, sk, err := scheme.GenerateKey()
	if err != nil {
		return nil, nil, errors.Wrap(err, "generating dilithium key pair")
	}
	publicKey, err = marshalKey(pk)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshaling public key")
	}
	secretKey, err = marshalKey(sk)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshaling private key")
	}
	return publicKey, secretKey, nil
}

// marshalKey encodes a circl sign.PublicKey/sign.PrivateKey (both declared
// as interface{} by the generic sign package) to its wire bytes via the
// concrete key type's encoding.BinaryMarshaler implementation.
func marshalKey(key interface{}) ([]byte, error) {
	m, ok := key.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.New("key type does not support binary marshaling")
	}
	return m.MarshalBinary()
}
