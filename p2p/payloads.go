package p2p

import (
	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/codec"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
)

// ProtocolVersion is bumped on any wire-incompatible change to a payload's
// encoding.
const ProtocolVersion uint32 = 1

// VersionMsg is the handshake's first message (spec.md 4.10): protocol
// version, the genesis hash the sender believes partitions its network, and
// a declared rate limit the receiver should hold the sender to.
type VersionMsg struct {
	ProtocolVersion uint32
	GenesisHash     crypto.Hash
	ListenPort      uint16
	DeclaredRateCap uint64
	UserAgent       string
}

func (m *VersionMsg) FuncCode() FuncCode { return FuncVersion }

func (m *VersionMsg) Encode(w *codec.Writer) {
	w.Uint32(m.ProtocolVersion)
	w.FixedBytes(m.GenesisHash[:])
	w.Uint16(m.ListenPort)
	w.Uint64(m.DeclaredRateCap)
	w.VarString(m.UserAgent)
}

func (m *VersionMsg) Decode(r *codec.Reader) error {
	m.ProtocolVersion = r.Uint32()
	hash := r.FixedBytes(crypto.HashSize)
	m.ListenPort = r.Uint16()
	m.DeclaredRateCap = r.Uint64()
	m.UserAgent = r.VarString()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	copy(m.GenesisHash[:], hash)
	return nil
}

// PeersMsg carries a batch of known peer addresses for bootstrap exchange.
type PeersMsg struct {
	Addrs []string
}

func (m *PeersMsg) FuncCode() FuncCode { return FuncPeersList }

func (m *PeersMsg) Encode(w *codec.Writer) {
	w.Uint32(uint32(len(m.Addrs)))
	for _, a := range m.Addrs {
		w.VarString(a)
	}
}

func (m *PeersMsg) Decode(r *codec.Reader) error {
	n := r.Uint32()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	m.Addrs = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		m.Addrs = append(m.Addrs, r.VarString())
	}
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	return nil
}

// PongMsg answers a liveness check, echoing the nonce the caller last sent
// so in-flight round trips can be distinguished.
type PongMsg struct {
	Nonce uint64
}

func (m *PongMsg) FuncCode() FuncCode { return FuncPong }
func (m *PongMsg) Encode(w *codec.Writer) { w.Uint64(m.Nonce) }
func (m *PongMsg) Decode(r *codec.Reader) error {
	m.Nonce = r.Uint64()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	return nil
}

// HaveHashMsg announces that the sender holds an item (block or
// transaction) with the given hash, the gossip primitive peers use instead
// of pushing full payloads unsolicited (spec.md 4.10 "MR announcements").
type HaveHashMsg struct {
	IsBlock bool
	Hash    crypto.Hash
}

func (m *HaveHashMsg) FuncCode() FuncCode { return FuncHaveHash }

func (m *HaveHashMsg) Encode(w *codec.Writer) {
	w.Bool(m.IsBlock)
	w.FixedBytes(m.Hash[:])
}

func (m *HaveHashMsg) Decode(r *codec.Reader) error {
	m.IsBlock = r.Bool()
	hash := r.FixedBytes(crypto.HashSize)
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	copy(m.Hash[:], hash)
	return nil
}

// SendFullMsg requests the full payload behind a previously-announced hash
// (spec.md 4.10 "peers request unknown items with SFM").
type SendFullMsg struct {
	IsBlock bool
	Hash    crypto.Hash
}

func (m *SendFullMsg) FuncCode() FuncCode { return FuncSendFullMessage }

func (m *SendFullMsg) Encode(w *codec.Writer) {
	w.Bool(m.IsBlock)
	w.FixedBytes(m.Hash[:])
}

func (m *SendFullMsg) Decode(r *codec.Reader) error {
	m.IsBlock = r.Bool()
	hash := r.FixedBytes(crypto.HashSize)
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	copy(m.Hash[:], hash)
	return nil
}

// BlockMsg carries a full block, sent in answer to an SFM request (an FB
// request is answered with PushBlockMsg).
type BlockMsg struct {
	Block *block.Block
}

func (m *BlockMsg) FuncCode() FuncCode { return FuncBlock }
func (m *BlockMsg) Encode(w *codec.Writer) { m.Block.Encode(w) }
func (m *BlockMsg) Decode(r *codec.Reader) error {
	blk, err := block.Decode(r)
	if err != nil {
		return err
	}
	m.Block = blk
	return nil
}

// FetchBlockMsg requests a block by its chain height, used by the syncer's
// sliding-window backfill (spec.md 4.11).
type FetchBlockMsg struct {
	Height uint64
}

func (m *FetchBlockMsg) FuncCode() FuncCode { return FuncFetchBlock }
func (m *FetchBlockMsg) Encode(w *codec.Writer) { w.Uint64(m.Height) }
func (m *FetchBlockMsg) Decode(r *codec.Reader) error {
	m.Height = r.Uint64()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	return nil
}

// PushBlockMsg answers a FetchBlockMsg with the block at the requested
// height, or Found=false if the responder's chain does not reach that high.
type PushBlockMsg struct {
	Height uint64
	Found  bool
	Block  *block.Block
}

func (m *PushBlockMsg) FuncCode() FuncCode { return FuncPushBlock }

func (m *PushBlockMsg) Encode(w *codec.Writer) {
	w.Uint64(m.Height)
	w.Bool(m.Found)
	if m.Found {
		m.Block.Encode(w)
	}
}

func (m *PushBlockMsg) Decode(r *codec.Reader) error {
	m.Height = r.Uint64()
	m.Found = r.Bool()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	if m.Found {
		blk, err := block.Decode(r)
		if err != nil {
			return err
		}
		m.Block = blk
	}
	return nil
}

// BlockHeightMsg advertises the sender's current tip height and cumulative
// difficulty, the signal the syncer uses to pick a sync source peer
// (spec.md 4.11 "peer with the highest advertised cumulative difficulty").
type BlockHeightMsg struct {
	Height               uint64
	TipHash              crypto.Hash
	CumulativeDifficulty []byte // big.Int bytes, big-endian
}

func (m *BlockHeightMsg) FuncCode() FuncCode { return FuncBlockHeight }

func (m *BlockHeightMsg) Encode(w *codec.Writer) {
	w.Uint64(m.Height)
	w.FixedBytes(m.TipHash[:])
	w.VarBytes(m.CumulativeDifficulty)
}

func (m *BlockHeightMsg) Decode(r *codec.Reader) error {
	m.Height = r.Uint64()
	hash := r.FixedBytes(crypto.HashSize)
	m.CumulativeDifficulty = r.VarBytes()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	copy(m.TipHash[:], hash)
	return nil
}

// TxMsg carries a single transaction, gossiped or pushed under one of the
// nine typed function codes spec.md 4.10 lists; the concrete code used on
// the wire is derived from the wrapped transaction's own type tag (see
// FuncCodeForTxType), so TxMsg itself only needs one Go shape.
type TxMsg struct {
	Tx *txtypes.Transaction
}

// FuncCodeForTxType maps a transaction's payload type to the function code
// spec.md 4.10 assigns it. Coinbase has no standalone code: it is never
// gossiped, only ever embedded in a BlockMsg.
func FuncCodeForTxType(t txtypes.Type) (FuncCode, bool) {
	switch t {
	case txtypes.TypeTransfer:
		return FuncTxTransfer, true
	case txtypes.TypeMessage:
		return FuncTxMessage, true
	case txtypes.TypeTokenCreate:
		return FuncTxTokenCreate, true
	case txtypes.TypeTokenTransfer:
		return FuncTxTokenTransfer, true
	case txtypes.TypeSlave:
		return FuncTxSlave, true
	case txtypes.TypeMultiSigCreate:
		return FuncTxMultiSigCreate, true
	case txtypes.TypeMultiSigSpend:
		return FuncTxMultiSigSpend, true
	case txtypes.TypeMultiSigVote:
		return FuncTxMultiSigVote, true
	default:
		return 0, false
	}
}

func (m *TxMsg) FuncCode() FuncCode {
	code, ok := FuncCodeForTxType(m.Tx.Type)
	if !ok {
		return FuncTxReserved
	}
	return code
}

func (m *TxMsg) Encode(w *codec.Writer) { m.Tx.Encode(w) }

func (m *TxMsg) Decode(r *codec.Reader) error {
	tx, err := txtypes.Decode(r)
	if err != nil {
		return err
	}
	m.Tx = tx
	return nil
}

// SyncMsg requests the responder's canonical hash at a given height, the
// probe the syncer uses to walk backward to the common tip (spec.md 4.11).
type SyncMsg struct {
	FromHeight uint64
}

func (m *SyncMsg) FuncCode() FuncCode { return FuncSync }
func (m *SyncMsg) Encode(w *codec.Writer) { w.Uint64(m.FromHeight) }
func (m *SyncMsg) Decode(r *codec.Reader) error {
	m.FromHeight = r.Uint64()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	return nil
}

// ChainStateMsg summarizes the sender's chain for sync negotiation.
type ChainStateMsg struct {
	Height               uint64
	TipHash              crypto.Hash
	CumulativeDifficulty []byte
}

func (m *ChainStateMsg) FuncCode() FuncCode { return FuncChainState }

func (m *ChainStateMsg) Encode(w *codec.Writer) {
	w.Uint64(m.Height)
	w.FixedBytes(m.TipHash[:])
	w.VarBytes(m.CumulativeDifficulty)
}

func (m *ChainStateMsg) Decode(r *codec.Reader) error {
	m.Height = r.Uint64()
	hash := r.FixedBytes(crypto.HashSize)
	m.CumulativeDifficulty = r.VarBytes()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	copy(m.TipHash[:], hash)
	return nil
}

// HeaderHashesMsg returns a contiguous run of canonical block hashes
// starting at StartHeight, the payload a header-first sync walks backward
// over (spec.md 4.11).
type HeaderHashesMsg struct {
	StartHeight uint64
	Hashes      []crypto.Hash
}

func (m *HeaderHashesMsg) FuncCode() FuncCode { return FuncHeaderHashes }

func (m *HeaderHashesMsg) Encode(w *codec.Writer) {
	w.Uint64(m.StartHeight)
	w.Uint32(uint32(len(m.Hashes)))
	for _, h := range m.Hashes {
		w.FixedBytes(h[:])
	}
}

func (m *HeaderHashesMsg) Decode(r *codec.Reader) error {
	m.StartHeight = r.Uint64()
	n := r.Uint32()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	m.Hashes = make([]crypto.Hash, 0, n)
	for i := uint32(0); i < n; i++ {
		h := r.FixedBytes(crypto.HashSize)
		if r.Err() != nil {
			return codec.ErrMalformed
		}
		var hash crypto.Hash
		copy(hash[:], h)
		m.Hashes = append(m.Hashes, hash)
	}
	return nil
}

// AckMsg carries the sender's cumulative received-byte counter, the flow
// control signal spec.md 4.10 keys rate limiting off of.
type AckMsg struct {
	TotalBytesReceived uint64
}

func (m *AckMsg) FuncCode() FuncCode { return FuncAck }
func (m *AckMsg) Encode(w *codec.Writer) { w.Uint64(m.TotalBytesReceived) }
func (m *AckMsg) Decode(r *codec.Reader) error {
	m.TotalBytesReceived = r.Uint64()
	if r.Err() != nil {
		return codec.ErrMalformed
	}
	return nil
}
