// Package ledger defines the account/token data shapes shared by the
// transaction-type validators and the chain state overlay (spec.md 3, 4.4).
// It sits below both txtypes and state so that transaction validation code
// can be written against AccountView without state importing txtypes and
// txtypes importing state.
package ledger

import (
	"github.com/Hamza1s34/Qbitcoin/crypto"
)

// AccessType flags what a delegated (slave) public key is permitted to do
// on behalf of its master address (spec.md 3, Slave transaction).
type AccessType uint8

// Access flags, combinable as a bitmask.
const (
	AccessTransfer AccessType = 1 << iota
	AccessMessage
	AccessToken
	AccessMultiSig
	AccessAll AccessType = AccessTransfer | AccessMessage | AccessToken | AccessMultiSig
)

// Has reports whether flags grants the permission in want.
func (flags AccessType) Has(want AccessType) bool {
	return flags&want == want
}

// AccountState is the persisted state of a single address (spec.md 3).
// The zero value is the correct default for an address that has never been
// seen, per State.GetAccount's "default-zero account if absent" contract.
type AccountState struct {
	Balance       uint64
	Nonce         uint64
	TokenBalances map[crypto.Hash]uint64
	UsedKeys      map[crypto.Hash]struct{}
	DelegatedKeys map[crypto.Hash]AccessType // hash of delegated public key -> access flags
}

// Clone returns a deep copy of acc, used by the copy-on-write overlays the
// mempool and reorg logic rely on so that speculative mutation never
// touches shared committed state.
func (acc AccountState) Clone() AccountState {
	out := AccountState{
		Balance: acc.Balance,
		Nonce:   acc.Nonce,
	}
	if acc.TokenBalances != nil {
		out.TokenBalances = make(map[crypto.Hash]uint64, len(acc.TokenBalances))
		for k, v := range acc.TokenBalances {
			out.TokenBalances[k] = v
		}
	}
	if acc.UsedKeys != nil {
		out.UsedKeys = make(map[crypto.Hash]struct{}, len(acc.UsedKeys))
		for k := range acc.UsedKeys {
			out.UsedKeys[k] = struct{}{}
		}
	}
	if acc.DelegatedKeys != nil {
		out.DelegatedKeys = make(map[crypto.Hash]AccessType, len(acc.DelegatedKeys))
		for k, v := range acc.DelegatedKeys {
			out.DelegatedKeys[k] = v
		}
	}
	return out
}

// HasUsedKey reports whether keyHash has already signed on behalf of this
// account, enforcing the stateful single-use signing discipline (spec.md 3,
// 9).
func (acc AccountState) HasUsedKey(keyHash crypto.Hash) bool {
	if acc.UsedKeys == nil {
		return false
	}
	_, ok := acc.UsedKeys[keyHash]
	return ok
}

// MarkKeyUsed records keyHash as spent, mutating acc in place (the caller
// owns copy-on-write semantics via Clone).
func (acc *AccountState) MarkKeyUsed(keyHash crypto.Hash) {
	if acc.UsedKeys == nil {
		acc.UsedKeys = make(map[crypto.Hash]struct{}, 1)
	}
	acc.UsedKeys[keyHash] = struct{}{}
}

// TokenMeta describes a token created by a TokenCreate transaction
// (spec.md 3).
type TokenMeta struct {
	CreationTxHash crypto.Hash
	Symbol         string
	Name           string
	Owner          crypto.Address
	Decimals       uint8
	TotalSupply    uint64
}

// AccountView is the narrow read/write surface transaction validators need
// against chain state, implemented by state.Overlay (committed state) and
// by the mempool's copy-on-write snapshot alike (spec.md 4.4, 4.7).
type AccountView interface {
	GetAccount(addr crypto.Address) AccountState
	PutAccount(addr crypto.Address, acc AccountState)

	GetToken(hash crypto.Hash) (TokenMeta, bool)
	PutToken(hash crypto.Hash, meta TokenMeta)

	GetMultiSigSpend(hash crypto.Hash) (MultiSigSpendState, bool)
	PutMultiSigSpend(hash crypto.Hash, spend MultiSigSpendState)

	GetMultiSigMeta(addr crypto.Address) (MultiSigMeta, bool)
	PutMultiSigMeta(addr crypto.Address, meta MultiSigMeta)

	BlockHeight() uint64
	BlockTimestamp() int64
}

// MultiSigMeta is the signatory set and threshold registered by a
// MultiSigCreate transaction (spec.md 3).
type MultiSigMeta struct {
	CreationTxHash crypto.Hash
	Signatories    []crypto.Address
	Weights        []uint32
	Threshold      uint32
}

// MultiSigSpendState tracks a pending MultiSigSpend's votes until it either
// reaches its threshold and executes, or expires (spec.md 3, 9).
type MultiSigSpendState struct {
	MultiSigAddress crypto.Address
	Outputs         []Output
	ExpiryHeight    uint64
	Votes           map[crypto.Address]bool // signatory -> vote(true)/unvote(false)
	Executed        bool
}

// Output is a (recipient, amount) pair, used by Transfer, MultiSigSpend, and
// coinbase-like payouts (spec.md 3).
type Output struct {
	Recipient crypto.Address
	Amount    uint64
}
