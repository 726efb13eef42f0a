package txtypes

import (
	"github.com/Hamza1s34/Qbitcoin/codec"
	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/pkg/errors"
)

var (
	ErrNoOutputs            = errors.New("transaction has no outputs")
	ErrAmountOverflow       = errors.New("output amounts overflow 64 bits")
	ErrMessageTooLarge      = errors.New("message payload exceeds the configured limit")
	ErrBadSymbol            = errors.New("invalid token symbol")
	ErrBadTokenName         = errors.New("invalid token name")
	ErrBadDecimals          = errors.New("invalid token decimals")
	ErrNotCoinbasePosition  = errors.New("coinbase transaction is not in the first position")
	ErrBadCoinbaseAmount    = errors.New("coinbase amount does not equal subsidy plus fees")
	ErrUnknownMultiSig      = errors.New("unknown multi-signature account")
	ErrUnknownMultiSigSpend = errors.New("unknown multi-signature spend proposal")
	ErrAlreadyExecuted      = errors.New("multi-signature spend already executed")
	ErrBadThreshold         = errors.New("multi-signature threshold is unreachable")
	ErrBadDelegation        = errors.New("invalid delegated key list")
)

func sumOutputs(fee uint64, outputs []ledger.Output) (uint64, error) {
	total := fee
	for _, o := range outputs {
		next := total + o.Amount
		if next < total {
			return 0, ErrAmountOverflow
		}
		total = next
	}
	return total, nil
}

func encodeOutputs(w *codec.Writer, outputs []ledger.Output) {
	w.Uint32(uint32(len(outputs)))
	for _, o := range outputs {
		w.FixedBytes(o.Recipient[:])
		w.Uint64(o.Amount)
	}
}

func decodeOutputs(r *codec.Reader) ([]ledger.Output, error) {
	n := r.Uint32()
	if r.Err() != nil {
		return nil, ErrMalformedPayload
	}
	outputs := make([]ledger.Output, 0, n)
	for i := uint32(0); i < n; i++ {
		addrBytes := r.FixedBytes(crypto.AddressSize)
		amount := r.Uint64()
		if r.Err() != nil {
			return nil, ErrMalformedPayload
		}
		addr, err := crypto.AddressFromBytes(addrBytes)
		if err != nil {
			return nil, ErrMalformedPayload
		}
		outputs = append(outputs, ledger.Output{Recipient: addr, Amount: amount})
	}
	return outputs, nil
}

func debitSender(view ledger.AccountView, addr crypto.Address, total uint64) error {
	account := view.GetAccount(addr)
	if account.Balance < total {
		return ErrInsufficientBalance
	}
	account = account.Clone()
	account.Balance -= total
	view.PutAccount(addr, account)
	return nil
}

func creditRecipient(view ledger.AccountView, addr crypto.Address, amount uint64) {
	account := view.GetAccount(addr).Clone()
	account.Balance += amount
	view.PutAccount(addr, account)
}

// ---------------------------------------------------------------- Transfer

// Transfer moves coins to one or more recipients with an optional opaque
// message (spec.md 3).
type Transfer struct {
	Outputs []ledger.Output
	Message []byte
}

func (t *Transfer) Type() Type { return TypeTransfer }

func (t *Transfer) Encode(w *codec.Writer) {
	encodeOutputs(w, t.Outputs)
	w.VarBytes(t.Message)
}

func (t *Transfer) Decode(r *codec.Reader) error {
	outputs, err := decodeOutputs(r)
	if err != nil {
		return err
	}
	t.Outputs = outputs
	t.Message = r.VarBytes()
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	return nil
}

func (t *Transfer) BasicValidate(params *config.NetworkParams, fee uint64) error {
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	if _, err := sumOutputs(fee, t.Outputs); err != nil {
		return err
	}
	if len(t.Message) > params.MaxTransactionMessageBytes {
		return ErrMessageTooLarge
	}
	return nil
}

func (t *Transfer) StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error {
	total, err := sumOutputs(tx.Fee, t.Outputs)
	if err != nil {
		return err
	}
	if err := debitSender(view, tx.MasterAddress, total); err != nil {
		return err
	}
	for _, o := range t.Outputs {
		creditRecipient(view, o.Recipient, o.Amount)
	}
	return nil
}

// ---------------------------------------------------------------- Coinbase

// Coinbase pays the miner the block subsidy plus the fees of every other
// transaction in the block. It is only valid as transaction 0 and is never
// gossiped standalone (spec.md 3).
type Coinbase struct {
	Recipient crypto.Address
	Amount    uint64
}

func (c *Coinbase) Type() Type { return TypeCoinbase }

func (c *Coinbase) Encode(w *codec.Writer) {
	w.FixedBytes(c.Recipient[:])
	w.Uint64(c.Amount)
}

func (c *Coinbase) Decode(r *codec.Reader) error {
	addrBytes := r.FixedBytes(crypto.AddressSize)
	c.Amount = r.Uint64()
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	addr, err := crypto.AddressFromBytes(addrBytes)
	if err != nil {
		return ErrMalformedPayload
	}
	c.Recipient = addr
	return nil
}

func (c *Coinbase) BasicValidate(params *config.NetworkParams, fee uint64) error {
	return nil
}

func (c *Coinbase) StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error {
	if ctx.TxIndex != 0 {
		return ErrNotCoinbasePosition
	}
	want := ctx.Subsidy + ctx.FeeSum
	if c.Amount != want {
		return ErrBadCoinbaseAmount
	}
	creditRecipient(view, c.Recipient, c.Amount)
	return nil
}

// ---------------------------------------------------------------- Message

// Message carries an opaque payload, optionally addressed to a recipient,
// paying only the transaction fee (spec.md 3).
type Message struct {
	HasRecipient bool
	Recipient    crypto.Address
	Payload      []byte
}

func (m *Message) Type() Type { return TypeMessage }

func (m *Message) Encode(w *codec.Writer) {
	w.Bool(m.HasRecipient)
	if m.HasRecipient {
		w.FixedBytes(m.Recipient[:])
	}
	w.VarBytes(m.Payload)
}

func (m *Message) Decode(r *codec.Reader) error {
	m.HasRecipient = r.Bool()
	if m.HasRecipient {
		addrBytes := r.FixedBytes(crypto.AddressSize)
		if r.Err() != nil {
			return ErrMalformedPayload
		}
		addr, err := crypto.AddressFromBytes(addrBytes)
		if err != nil {
			return ErrMalformedPayload
		}
		m.Recipient = addr
	}
	m.Payload = r.VarBytes()
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	return nil
}

func (m *Message) BasicValidate(params *config.NetworkParams, fee uint64) error {
	if len(m.Payload) > params.MaxTransactionMessageBytes {
		return ErrMessageTooLarge
	}
	return nil
}

func (m *Message) StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error {
	return debitSender(view, tx.MasterAddress, tx.Fee)
}

// ---------------------------------------------------------------- TokenCreate

// TokenCreate mints a new token and distributes its initial supply
// (spec.md 3).
type TokenCreate struct {
	Symbol          string
	Name            string
	Owner           crypto.Address
	Decimals        uint8
	InitialBalances []ledger.Output
}

func (t *TokenCreate) Type() Type { return TypeTokenCreate }

func (t *TokenCreate) Encode(w *codec.Writer) {
	w.VarString(t.Symbol)
	w.VarString(t.Name)
	w.FixedBytes(t.Owner[:])
	w.Uint8(t.Decimals)
	encodeOutputs(w, t.InitialBalances)
}

func (t *TokenCreate) Decode(r *codec.Reader) error {
	t.Symbol = r.VarString()
	t.Name = r.VarString()
	addrBytes := r.FixedBytes(crypto.AddressSize)
	t.Decimals = r.Uint8()
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	addr, err := crypto.AddressFromBytes(addrBytes)
	if err != nil {
		return ErrMalformedPayload
	}
	t.Owner = addr
	outputs, err := decodeOutputs(r)
	if err != nil {
		return err
	}
	t.InitialBalances = outputs
	return nil
}

func (t *TokenCreate) BasicValidate(params *config.NetworkParams, fee uint64) error {
	if len(t.Symbol) == 0 || len(t.Symbol) > 12 {
		return ErrBadSymbol
	}
	if len(t.Name) == 0 || len(t.Name) > 64 {
		return ErrBadTokenName
	}
	if t.Decimals > 18 {
		return ErrBadDecimals
	}
	if len(t.InitialBalances) == 0 {
		return ErrNoOutputs
	}
	if _, err := sumOutputs(0, t.InitialBalances); err != nil {
		return err
	}
	return nil
}

func (t *TokenCreate) StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error {
	tokenHash := tx.ID()
	if _, exists := view.GetToken(tokenHash); exists {
		return ErrDuplicateTx
	}
	if err := debitSender(view, tx.MasterAddress, tx.Fee); err != nil {
		return err
	}

	var totalSupply uint64
	for _, o := range t.InitialBalances {
		totalSupply += o.Amount
	}
	view.PutToken(tokenHash, ledger.TokenMeta{
		CreationTxHash: tokenHash,
		Symbol:         t.Symbol,
		Name:           t.Name,
		Owner:          t.Owner,
		Decimals:       t.Decimals,
		TotalSupply:    totalSupply,
	})

	for _, o := range t.InitialBalances {
		account := view.GetAccount(o.Recipient).Clone()
		if account.TokenBalances == nil {
			account.TokenBalances = make(map[crypto.Hash]uint64, 1)
		}
		account.TokenBalances[tokenHash] += o.Amount
		view.PutAccount(o.Recipient, account)
	}
	return nil
}

// ------------------------------------------------------------- TokenTransfer

// TokenTransfer moves balances of a previously created token (spec.md 3).
type TokenTransfer struct {
	TokenHash crypto.Hash
	Outputs   []ledger.Output
}

func (t *TokenTransfer) Type() Type { return TypeTokenTransfer }

func (t *TokenTransfer) Encode(w *codec.Writer) {
	w.FixedBytes(t.TokenHash[:])
	encodeOutputs(w, t.Outputs)
}

func (t *TokenTransfer) Decode(r *codec.Reader) error {
	hashBytes := r.FixedBytes(crypto.HashSize)
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	copy(t.TokenHash[:], hashBytes)
	outputs, err := decodeOutputs(r)
	if err != nil {
		return err
	}
	t.Outputs = outputs
	return nil
}

func (t *TokenTransfer) BasicValidate(params *config.NetworkParams, fee uint64) error {
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	if _, err := sumOutputs(0, t.Outputs); err != nil {
		return err
	}
	return nil
}

func (t *TokenTransfer) StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error {
	if _, ok := view.GetToken(t.TokenHash); !ok {
		return ErrUnknownToken
	}
	sender := view.GetAccount(tx.MasterAddress)
	if sender.Balance < tx.Fee {
		return ErrInsufficientBalance
	}
	var totalOut uint64
	for _, o := range t.Outputs {
		totalOut += o.Amount
	}
	if sender.TokenBalances[t.TokenHash] < totalOut {
		return ErrInsufficientBalance
	}

	sender = sender.Clone()
	sender.Balance -= tx.Fee
	sender.TokenBalances[t.TokenHash] -= totalOut
	view.PutAccount(tx.MasterAddress, sender)

	for _, o := range t.Outputs {
		account := view.GetAccount(o.Recipient).Clone()
		if account.TokenBalances == nil {
			account.TokenBalances = make(map[crypto.Hash]uint64, 1)
		}
		account.TokenBalances[t.TokenHash] += o.Amount
		view.PutAccount(o.Recipient, account)
	}
	return nil
}

// ---------------------------------------------------------------- Slave

// Slave delegates signing authority for a set of access types to other
// public keys (spec.md 3).
type Slave struct {
	DelegatedKeys [][]byte
	AccessFlags   []ledger.AccessType
}

func (s *Slave) Type() Type { return TypeSlave }

func (s *Slave) Encode(w *codec.Writer) {
	w.Uint32(uint32(len(s.DelegatedKeys)))
	for i, pk := range s.DelegatedKeys {
		w.VarBytes(pk)
		w.Uint8(uint8(s.AccessFlags[i]))
	}
}

func (s *Slave) Decode(r *codec.Reader) error {
	n := r.Uint32()
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	s.DelegatedKeys = make([][]byte, 0, n)
	s.AccessFlags = make([]ledger.AccessType, 0, n)
	for i := uint32(0); i < n; i++ {
		pk := r.VarBytes()
		flags := r.Uint8()
		if r.Err() != nil {
			return ErrMalformedPayload
		}
		s.DelegatedKeys = append(s.DelegatedKeys, pk)
		s.AccessFlags = append(s.AccessFlags, ledger.AccessType(flags))
	}
	return nil
}

func (s *Slave) BasicValidate(params *config.NetworkParams, fee uint64) error {
	if len(s.DelegatedKeys) == 0 || len(s.DelegatedKeys) != len(s.AccessFlags) {
		return ErrBadDelegation
	}
	for _, pk := range s.DelegatedKeys {
		if len(pk) != crypto.PublicKeySize {
			return ErrBadDelegation
		}
	}
	return nil
}

func (s *Slave) StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error {
	sender := view.GetAccount(tx.MasterAddress)
	if sender.Balance < tx.Fee {
		return ErrInsufficientBalance
	}
	sender = sender.Clone()
	sender.Balance -= tx.Fee
	if sender.DelegatedKeys == nil {
		sender.DelegatedKeys = make(map[crypto.Hash]ledger.AccessType, len(s.DelegatedKeys))
	}
	for i, pk := range s.DelegatedKeys {
		sender.DelegatedKeys[crypto.Sum256(pk)] = s.AccessFlags[i]
	}
	view.PutAccount(tx.MasterAddress, sender)
	return nil
}

// ------------------------------------------------------------ MultiSigCreate

// MultiSigCreate registers a weighted-threshold multi-signature account
// (spec.md 3).
type MultiSigCreate struct {
	Signatories []crypto.Address
	Weights     []uint32
	Threshold   uint32
}

func (m *MultiSigCreate) Type() Type { return TypeMultiSigCreate }

func (m *MultiSigCreate) Encode(w *codec.Writer) {
	w.Uint32(uint32(len(m.Signatories)))
	for i, s := range m.Signatories {
		w.FixedBytes(s[:])
		w.Uint32(m.Weights[i])
	}
	w.Uint32(m.Threshold)
}

func (m *MultiSigCreate) Decode(r *codec.Reader) error {
	n := r.Uint32()
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	m.Signatories = make([]crypto.Address, 0, n)
	m.Weights = make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		addrBytes := r.FixedBytes(crypto.AddressSize)
		weight := r.Uint32()
		if r.Err() != nil {
			return ErrMalformedPayload
		}
		addr, err := crypto.AddressFromBytes(addrBytes)
		if err != nil {
			return ErrMalformedPayload
		}
		m.Signatories = append(m.Signatories, addr)
		m.Weights = append(m.Weights, weight)
	}
	m.Threshold = r.Uint32()
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	return nil
}

func (m *MultiSigCreate) BasicValidate(params *config.NetworkParams, fee uint64) error {
	if len(m.Signatories) == 0 || len(m.Signatories) != len(m.Weights) {
		return ErrBadThreshold
	}
	var totalWeight uint64
	for _, w := range m.Weights {
		totalWeight += uint64(w)
	}
	if m.Threshold == 0 || uint64(m.Threshold) > totalWeight {
		return ErrBadThreshold
	}
	return nil
}

// Address derives the deterministic multi-signature account address for
// this creation transaction.
func (m *MultiSigCreate) Address(version crypto.AddressVersion, creationTxHash crypto.Hash) crypto.Address {
	return crypto.AddressFromDigest(version, creationTxHash)
}

func (m *MultiSigCreate) StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error {
	if err := debitSender(view, tx.MasterAddress, tx.Fee); err != nil {
		return err
	}
	creationHash := tx.ID()
	msAddr := m.Address(tx.MasterAddress.Version(), creationHash)
	view.PutMultiSigMeta(msAddr, ledger.MultiSigMeta{
		CreationTxHash: creationHash,
		Signatories:    m.Signatories,
		Weights:        m.Weights,
		Threshold:      m.Threshold,
	})
	return nil
}

// ------------------------------------------------------------- MultiSigSpend

// MultiSigSpend proposes a spend from a multi-signature account, pending
// enough weighted votes to meet its threshold before an expiry height
// (spec.md 3).
type MultiSigSpend struct {
	MultiSigAddress crypto.Address
	Outputs         []ledger.Output
	ExpiryHeight    uint64
}

func (m *MultiSigSpend) Type() Type { return TypeMultiSigSpend }

func (m *MultiSigSpend) Encode(w *codec.Writer) {
	w.FixedBytes(m.MultiSigAddress[:])
	encodeOutputs(w, m.Outputs)
	w.Uint64(m.ExpiryHeight)
}

func (m *MultiSigSpend) Decode(r *codec.Reader) error {
	addrBytes := r.FixedBytes(crypto.AddressSize)
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	addr, err := crypto.AddressFromBytes(addrBytes)
	if err != nil {
		return ErrMalformedPayload
	}
	m.MultiSigAddress = addr
	outputs, err := decodeOutputs(r)
	if err != nil {
		return err
	}
	m.Outputs = outputs
	m.ExpiryHeight = r.Uint64()
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	return nil
}

func (m *MultiSigSpend) BasicValidate(params *config.NetworkParams, fee uint64) error {
	if len(m.Outputs) == 0 {
		return ErrNoOutputs
	}
	if _, err := sumOutputs(0, m.Outputs); err != nil {
		return err
	}
	return nil
}

func (m *MultiSigSpend) StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error {
	meta, ok := view.GetMultiSigMeta(m.MultiSigAddress)
	if !ok {
		return ErrUnknownMultiSig
	}
	if m.ExpiryHeight <= ctx.BlockHeight {
		return ErrExpired
	}
	isSignatory := false
	for _, s := range meta.Signatories {
		if s == tx.MasterAddress {
			isSignatory = true
			break
		}
	}
	if !isSignatory {
		return ErrUnauthorizedSigner
	}
	if err := debitSender(view, tx.MasterAddress, tx.Fee); err != nil {
		return err
	}

	spendHash := tx.ID()
	if _, exists := view.GetMultiSigSpend(spendHash); exists {
		return ErrDuplicateTx
	}
	view.PutMultiSigSpend(spendHash, ledger.MultiSigSpendState{
		MultiSigAddress: m.MultiSigAddress,
		Outputs:         m.Outputs,
		ExpiryHeight:    m.ExpiryHeight,
		Votes:           map[crypto.Address]bool{tx.MasterAddress: true},
	})
	return maybeExecuteSpend(view, spendHash)
}

// -------------------------------------------------------------- MultiSigVote

// MultiSigVote casts or retracts a vote on a pending MultiSigSpend
// (spec.md 3).
type MultiSigVote struct {
	SpendHash crypto.Hash
	Approve   bool
}

func (m *MultiSigVote) Type() Type { return TypeMultiSigVote }

func (m *MultiSigVote) Encode(w *codec.Writer) {
	w.FixedBytes(m.SpendHash[:])
	w.Bool(m.Approve)
}

func (m *MultiSigVote) Decode(r *codec.Reader) error {
	hashBytes := r.FixedBytes(crypto.HashSize)
	m.Approve = r.Bool()
	if r.Err() != nil {
		return ErrMalformedPayload
	}
	copy(m.SpendHash[:], hashBytes)
	return nil
}

func (m *MultiSigVote) BasicValidate(params *config.NetworkParams, fee uint64) error {
	return nil
}

func (m *MultiSigVote) StateValidateAndApply(tx *Transaction, view ledger.AccountView, ctx *Context) error {
	spend, ok := view.GetMultiSigSpend(m.SpendHash)
	if !ok {
		return ErrUnknownMultiSigSpend
	}
	if spend.Executed {
		return ErrAlreadyExecuted
	}
	if spend.ExpiryHeight <= ctx.BlockHeight {
		return ErrExpired
	}
	meta, ok := view.GetMultiSigMeta(spend.MultiSigAddress)
	if !ok {
		return ErrUnknownMultiSig
	}
	isSignatory := false
	for _, s := range meta.Signatories {
		if s == tx.MasterAddress {
			isSignatory = true
			break
		}
	}
	if !isSignatory {
		return ErrUnauthorizedSigner
	}
	if err := debitSender(view, tx.MasterAddress, tx.Fee); err != nil {
		return err
	}

	if spend.Votes == nil {
		spend.Votes = make(map[crypto.Address]bool, len(meta.Signatories))
	}
	spend.Votes[tx.MasterAddress] = m.Approve
	view.PutMultiSigSpend(m.SpendHash, spend)
	return maybeExecuteSpend(view, m.SpendHash)
}

// maybeExecuteSpend executes a pending spend once its approving signatories'
// combined weight meets the registered threshold (spec.md 3). No pass
// re-checks open spends on a reorg; spend records follow the write-set
// revert and the re-application of the new branch's blocks.
func maybeExecuteSpend(view ledger.AccountView, spendHash crypto.Hash) error {
	spend, ok := view.GetMultiSigSpend(spendHash)
	if !ok || spend.Executed {
		return nil
	}
	meta, ok := view.GetMultiSigMeta(spend.MultiSigAddress)
	if !ok {
		return ErrUnknownMultiSig
	}

	var approvedWeight uint64
	for i, signatory := range meta.Signatories {
		if approved, voted := spend.Votes[signatory]; voted && approved {
			approvedWeight += uint64(meta.Weights[i])
		}
	}
	if approvedWeight < uint64(meta.Threshold) {
		return nil
	}

	var total uint64
	for _, o := range spend.Outputs {
		total += o.Amount
	}
	if err := debitSender(view, spend.MultiSigAddress, total); err != nil {
		return err
	}
	for _, o := range spend.Outputs {
		creditRecipient(view, o.Recipient, o.Amount)
	}
	spend.Executed = true
	view.PutMultiSigSpend(spendHash, spend)
	return nil
}
