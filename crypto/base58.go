/*
Package crypto provides a modified base58 and Base58Check codec alongside
the node's sign/verify/hash primitives.

Standard base58 encoding is similar to base64 except, as the name implies,
it uses a 58 character alphabet which results in an alphanumeric string and
excludes characters (0, O, I, l) that are easy to confuse in many fonts.
This is the same alphabet and omission rationale documented by the
teacher's util/base58 package; the implementation here is written fresh
against it since no third-party library models this exact scheme.
*/
package crypto

import (
	"math/big"

	"github.com/pkg/errors"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Radix = big.NewInt(58)

// base58Encode encodes b using the modified base58 alphabet.
func base58Encode(b []byte) string {
	x := new(big.Int).SetBytes(b)
	mod := new(big.Int)
	var out []byte
	zero := big.NewInt(0)
	for x.Cmp(zero) > 0 {
		x.DivMod(x, base58Radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	// leading zero bytes become leading '1's
	for _, c := range b {
		if c != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}
	// reverse
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// base58Decode decodes a modified-base58 string back to bytes.
func base58Decode(s string) ([]byte, error) {
	x := big.NewInt(0)
	for _, r := range s {
		idx := indexOfBase58Char(byte(r))
		if idx < 0 {
			return nil, errors.Errorf("invalid base58 character %q", r)
		}
		x.Mul(x, base58Radix)
		x.Add(x, big.NewInt(int64(idx)))
	}
	decoded := x.Bytes()
	// restore leading zero bytes represented by leading '1's
	numLeadingOnes := 0
	for _, r := range s {
		if r != rune(base58Alphabet[0]) {
			break
		}
		numLeadingOnes++
	}
	out := make([]byte, numLeadingOnes+len(decoded))
	copy(out[numLeadingOnes:], decoded)
	return out, nil
}

func indexOfBase58Char(c byte) int {
	for i := 0; i < len(base58Alphabet); i++ {
		if base58Alphabet[i] == c {
			return i
		}
	}
	return -1
}
