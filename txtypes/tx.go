// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txtypes implements the transaction taxonomy and per-type
// validation rules (spec.md 3, 4.5). Each variant supplies three pure
// functions: canonical bytes (the signature's message), basic validation
// (stateless), and state-validate-and-apply (stateful). Ordering within a
// block is authoritative — a transaction may only read state written by
// earlier transactions in the same block, never later ones.
package txtypes

import (
	"github.com/Hamza1s34/Qbitcoin/codec"
	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/pkg/errors"
)

// Type tags a transaction's payload variant (spec.md 3).
type Type uint8

// Transaction type tags. Coinbase is never gossiped standalone and is only
// valid as transaction 0 of a block (spec.md 3).
const (
	TypeTransfer Type = iota
	TypeCoinbase
	TypeMessage
	TypeTokenCreate
	TypeTokenTransfer
	TypeSlave
	TypeMultiSigCreate
	TypeMultiSigSpend
	TypeMultiSigVote
)

func (t Type) String() string {
	switch t {
	case TypeTransfer:
		return "Transfer"
	case TypeCoinbase:
		return "Coinbase"
	case TypeMessage:
		return "Message"
	case TypeTokenCreate:
		return "TokenCreate"
	case TypeTokenTransfer:
		return "TokenTransfer"
	case TypeSlave:
		return "Slave"
	case TypeMultiSigCreate:
		return "MultiSigCreate"
	case TypeMultiSigSpend:
		return "MultiSigSpend"
	case TypeMultiSigVote:
		return "MultiSigVote"
	default:
		return "Unknown"
	}
}

// Error taxonomy for transaction-level rejections (spec.md 7). These are
// never fatal: the submitter and P2P layer see a descriptive code, and a
// repeat offender may eventually be banned by the P2P layer, not by this
// package.
var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrReusedSigningKey   = errors.New("signing key already used by this account")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNonceGap           = errors.New("nonce gap")
	ErrDuplicateTx        = errors.New("duplicate transaction")
	ErrUnknownToken       = errors.New("unknown token")
	ErrThresholdNotMet    = errors.New("multisig threshold not met")
	ErrExpired            = errors.New("expired")
	ErrUnauthorizedSigner = errors.New("signer is not the master address or an authorized slave")
	ErrMalformedPayload   = errors.New("malformed transaction payload")
)

// Payload is implemented by each of the nine transaction variants (spec.md
// 3). BasicValidate must not touch state or the network. StateValidateAndApply
// performs the type-specific half of spec.md 4.4's validation checks 4-5 and,
// if it returns nil, has already mutated view to reflect the transaction.
type Payload interface {
	Type() Type
	Encode(w *codec.Writer)
	Decode(r *codec.Reader) error
	BasicValidate(params *config.NetworkParams, fee uint64) error
	StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error
}

// Context carries the per-block information a payload's StateValidateAndApply
// needs beyond the account view itself (spec.md 4.5, 4.6).
type Context struct {
	BlockHeight    uint64
	BlockTimestamp int64
	TxIndex        int    // 0 means coinbase position
	Subsidy        uint64 // only meaningful for the coinbase at TxIndex 0
	FeeSum         uint64 // sum of all non-coinbase fees in the block, for coinbase validation
}

// Transaction is the tagged envelope common to every variant (spec.md 3).
type Transaction struct {
	Type          Type
	MasterAddress crypto.Address
	Fee           uint64
	PublicKey     []byte
	Signature     []byte
	Nonce         uint64
	Payload       Payload
}

// canonicalBytes serializes the envelope (with the signature field left
// out) followed by the payload, the exact bytes that Signature must cover
// (spec.md 3, 4.4 check 2; spec.md 4.5 canonical_bytes).
func (tx *Transaction) canonicalBytes() []byte {
	w := codec.NewWriter()
	w.Uint8(uint8(tx.Type))
	w.FixedBytes(tx.MasterAddress[:])
	w.Uint64(tx.Fee)
	w.VarBytes(tx.PublicKey)
	w.Uint64(tx.Nonce)
	if tx.Payload != nil {
		tx.Payload.Encode(w)
	}
	return w.Bytes()
}

// ID returns the transaction's content hash, including its signature; this
// is the identifier used for mempool/chain indexing and gossip (spec.md
// 3, 4.7).
func (tx *Transaction) ID() crypto.Hash {
	w := codec.NewWriter()
	w.Uint8(uint8(tx.Type))
	w.FixedBytes(tx.MasterAddress[:])
	w.Uint64(tx.Fee)
	w.VarBytes(tx.PublicKey)
	w.VarBytes(tx.Signature)
	w.Uint64(tx.Nonce)
	if tx.Payload != nil {
		tx.Payload.Encode(w)
	}
	return crypto.Sum256(w.Bytes())
}

// Encode writes the full wire/disk form of the transaction, including its
// signature (spec.md 4.2).
func (tx *Transaction) Encode(w *codec.Writer) {
	w.Uint8(uint8(tx.Type))
	w.FixedBytes(tx.MasterAddress[:])
	w.Uint64(tx.Fee)
	w.VarBytes(tx.PublicKey)
	w.VarBytes(tx.Signature)
	w.Uint64(tx.Nonce)
	tx.Payload.Encode(w)
}

// Decode reads a Transaction, including dispatching to the correct payload
// decoder by type tag. It fails closed with ErrMalformedPayload on any
// violation (spec.md 4.2).
func Decode(r *codec.Reader) (*Transaction, error) {
	tx := &Transaction{}
	tx.Type = Type(r.Uint8())
	addrBytes := r.FixedBytes(crypto.AddressSize)
	if r.Err() != nil {
		return nil, ErrMalformedPayload
	}
	addr, err := crypto.AddressFromBytes(addrBytes)
	if err != nil {
		return nil, ErrMalformedPayload
	}
	tx.MasterAddress = addr
	tx.Fee = r.Uint64()
	tx.PublicKey = r.VarBytes()
	tx.Signature = r.VarBytes()
	tx.Nonce = r.Uint64()
	if r.Err() != nil {
		return nil, ErrMalformedPayload
	}

	payload, err := newPayload(tx.Type)
	if err != nil {
		return nil, err
	}
	if err := payload.Decode(r); err != nil {
		return nil, err
	}
	tx.Payload = payload

	if r.Err() != nil {
		return nil, ErrMalformedPayload
	}
	return tx, nil
}

func newPayload(t Type) (Payload, error) {
	switch t {
	case TypeTransfer:
		return &Transfer{}, nil
	case TypeCoinbase:
		return &Coinbase{}, nil
	case TypeMessage:
		return &Message{}, nil
	case TypeTokenCreate:
		return &TokenCreate{}, nil
	case TypeTokenTransfer:
		return &TokenTransfer{}, nil
	case TypeSlave:
		return &Slave{}, nil
	case TypeMultiSigCreate:
		return &MultiSigCreate{}, nil
	case TypeMultiSigSpend:
		return &MultiSigSpend{}, nil
	case TypeMultiSigVote:
		return &MultiSigVote{}, nil
	default:
		return nil, errors.Wrapf(ErrMalformedPayload, "unknown transaction type tag %d", t)
	}
}

// BasicValidate runs the stateless half of validation: envelope bounds and
// the type-specific bounds checks, requiring no state or network access
// (spec.md 4.5). It does not check the signature or touch state.
func (tx *Transaction) BasicValidate(params *config.NetworkParams) error {
	if tx.Payload == nil {
		return ErrMalformedPayload
	}
	if tx.Type != TypeCoinbase && len(tx.PublicKey) != crypto.PublicKeySize {
		return errors.Wrap(ErrMalformedPayload, "bad public key size")
	}
	if tx.Type != TypeCoinbase && len(tx.Signature) == 0 {
		return errors.Wrap(ErrMalformedPayload, "missing signature")
	}
	if tx.Type != TypeCoinbase && len(tx.Signature) > crypto.MaxSignatureSize {
		return errors.Wrap(ErrMalformedPayload, "signature too large")
	}
	return tx.Payload.BasicValidate(params, tx.Fee)
}

// Sign computes the signature over the transaction's canonical bytes and
// stores it, the counterpart callers (wallets, the mempool's local
// submission path) use before broadcasting a transaction it just built.
func (tx *Transaction) Sign(priv []byte) error {
	sig, err := crypto.Sign(priv, tx.canonicalBytes())
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// VerifySignature checks spec.md 4.4 checks 1-2: the declared public key
// hashes to the master address (or is a registered slave key), and the
// signature verifies the canonical (signature-free) bytes. It performs no
// mutation and is safe to run in parallel across transactions ahead of
// acquiring the chain write lock (spec.md 5).
func (tx *Transaction) VerifySignature(view ledger.AccountView) error {
	if tx.Type == TypeCoinbase {
		return nil
	}
	if !crypto.Verify(tx.PublicKey, tx.canonicalBytes(), tx.Signature) {
		return ErrInvalidSignature
	}

	derived := crypto.AddressOf(tx.MasterAddress.Version(), tx.PublicKey)
	if derived == tx.MasterAddress {
		return nil
	}

	account := view.GetAccount(tx.MasterAddress)
	keyHash := crypto.Sum256(tx.PublicKey)
	access, isSlave := account.DelegatedKeys[keyHash]
	if !isSlave {
		return ErrUnauthorizedSigner
	}
	if !requiredAccessFor(tx.Type).Has(access) && access != ledger.AccessAll {
		return ErrUnauthorizedSigner
	}
	return nil
}

func requiredAccessFor(t Type) ledger.AccessType {
	switch t {
	case TypeTransfer, TypeTokenTransfer:
		return ledger.AccessTransfer
	case TypeMessage:
		return ledger.AccessMessage
	case TypeTokenCreate:
		return ledger.AccessToken
	case TypeMultiSigCreate, TypeMultiSigSpend, TypeMultiSigVote:
		return ledger.AccessMultiSig
	default:
		return ledger.AccessAll
	}
}

// checkAndMarkUsedKey enforces the at-most-one-use-per-key stateful
// signature discipline (spec.md 3, 9, 4.4 check 3). It mutates view.
func (tx *Transaction) checkAndMarkUsedKey(view ledger.AccountView) error {
	if tx.Type == TypeCoinbase {
		return nil
	}
	keyHash := crypto.Sum256(tx.PublicKey)
	account := view.GetAccount(tx.MasterAddress)
	if account.HasUsedKey(keyHash) {
		return ErrReusedSigningKey
	}
	account = account.Clone()
	account.MarkKeyUsed(keyHash)
	view.PutAccount(tx.MasterAddress, account)
	return nil
}

// checkAndAdvanceNonce enforces the per-account monotonic nonce ordering
// common to every non-coinbase transaction type (spec.md 3 GLOSSARY,
// account nonce) and mutates view.
func (tx *Transaction) checkAndAdvanceNonce(view ledger.AccountView) error {
	if tx.Type == TypeCoinbase {
		return nil
	}
	account := view.GetAccount(tx.MasterAddress)
	if tx.Nonce != account.Nonce {
		return ErrNonceGap
	}
	account = account.Clone()
	account.Nonce++
	view.PutAccount(tx.MasterAddress, account)
	return nil
}

// StateValidateAndApply runs the full stateful half of spec.md 4.4: key
// reuse, nonce ordering, then the type-specific rules and mutation. It is
// atomic: on any error, the caller must discard the overlay snapshot it was
// applied to (state.ApplyTransaction upholds this by operating on a
// copy-on-write child that it drops on failure).
func (tx *Transaction) StateValidateAndApply(view ledger.AccountView, ctx *Context) error {
	if err := tx.VerifySignature(view); err != nil {
		return err
	}
	if err := tx.checkAndMarkUsedKey(view); err != nil {
		return err
	}
	if err := tx.checkAndAdvanceNonce(view); err != nil {
		return err
	}
	return tx.Payload.StateValidateAndApply(tx, view, ctx)
}
