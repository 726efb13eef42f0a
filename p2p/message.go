// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package p2p implements the node's peer-to-peer transport: length-prefixed
// framing over TCP, the handshake, gossip announce/fetch, flow control and
// banning, and peer table bookkeeping (spec.md 4.10). The function-code/
// envelope shape is grounded on the teacher's wire.MessageCommand and
// wire.Message (a small numeric tag mapped to a human name, one Go type per
// payload), generalized from the teacher's DAG-relay message set to the
// function codes spec.md 4.10 names for a single-parent chain.
package p2p

import (
	"io"

	"github.com/Hamza1s34/Qbitcoin/codec"
	"github.com/pkg/errors"
)

// MaxEnvelopeLen bounds a single frame's payload, independent of the
// individual message's own limits, to stop a peer from forcing a large
// allocation before the payload has even been parsed.
const MaxEnvelopeLen = 32 * 1024 * 1024

// FuncCode identifies a message's payload type on the wire (spec.md 4.10).
type FuncCode uint8

// Function codes for every message spec.md 4.10 names. The nine typed
// transaction codes (TX..LT) exist so a peer can route a transaction
// envelope without decoding the payload; only eight currently have a
// producer (see FuncCodeForTxType) because coinbase transactions travel
// embedded in a BK message, never standalone.
const (
	FuncVersion FuncCode = iota
	FuncPeersList
	FuncPong
	FuncHaveHash
	FuncSendFullMessage
	FuncBlock
	FuncFetchBlock
	FuncPushBlock
	FuncBlockHeight
	FuncTxTransfer
	FuncTxMessage
	FuncTxTokenCreate
	FuncTxTokenTransfer
	FuncTxSlave
	FuncTxMultiSigCreate
	FuncTxMultiSigSpend
	FuncTxMultiSigVote
	FuncTxReserved
	FuncSync
	FuncChainState
	FuncHeaderHashes
	FuncAck
)

var funcCodeNames = map[FuncCode]string{
	FuncVersion:          "VE",
	FuncPeersList:        "PL",
	FuncPong:             "PONG",
	FuncHaveHash:         "MR",
	FuncSendFullMessage:  "SFM",
	FuncBlock:            "BK",
	FuncFetchBlock:       "FB",
	FuncPushBlock:        "PB",
	FuncBlockHeight:      "BH",
	FuncTxTransfer:       "TX",
	FuncTxMessage:        "MT",
	FuncTxTokenCreate:    "TK",
	FuncTxTokenTransfer:  "TT",
	FuncTxSlave:          "SL",
	FuncTxMultiSigCreate: "MC",
	FuncTxMultiSigSpend:  "MS",
	FuncTxMultiSigVote:   "MV",
	FuncTxReserved:       "LT",
	FuncSync:             "SYNC",
	FuncChainState:       "CHAINSTATE",
	FuncHeaderHashes:     "HEADERHASHES",
	FuncAck:              "P2P_ACK",
}

func (c FuncCode) String() string {
	if name, ok := funcCodeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// ErrUnknownFuncCode is returned when a received envelope names a function
// code this build does not recognize; the frame itself is otherwise
// well-formed.
var ErrUnknownFuncCode = errors.New("p2p: unknown function code")

// Payload is implemented by every message body. Decode is called on a
// freshly-allocated zero value.
type Payload interface {
	FuncCode() FuncCode
	Encode(w *codec.Writer)
	Decode(r *codec.Reader) error
}

// payloadFactories constructs a zero-value Payload for a given FuncCode so
// ReadEnvelope can dispatch before the caller knows the concrete type.
var payloadFactories = map[FuncCode]func() Payload{
	FuncVersion:          func() Payload { return &VersionMsg{} },
	FuncPeersList:        func() Payload { return &PeersMsg{} },
	FuncPong:             func() Payload { return &PongMsg{} },
	FuncHaveHash:         func() Payload { return &HaveHashMsg{} },
	FuncSendFullMessage:  func() Payload { return &SendFullMsg{} },
	FuncBlock:            func() Payload { return &BlockMsg{} },
	FuncFetchBlock:       func() Payload { return &FetchBlockMsg{} },
	FuncPushBlock:        func() Payload { return &PushBlockMsg{} },
	FuncBlockHeight:      func() Payload { return &BlockHeightMsg{} },
	FuncTxTransfer:       func() Payload { return &TxMsg{} },
	FuncTxMessage:        func() Payload { return &TxMsg{} },
	FuncTxTokenCreate:    func() Payload { return &TxMsg{} },
	FuncTxTokenTransfer:  func() Payload { return &TxMsg{} },
	FuncTxSlave:          func() Payload { return &TxMsg{} },
	FuncTxMultiSigCreate: func() Payload { return &TxMsg{} },
	FuncTxMultiSigSpend:  func() Payload { return &TxMsg{} },
	FuncTxMultiSigVote:   func() Payload { return &TxMsg{} },
	FuncSync:             func() Payload { return &SyncMsg{} },
	FuncChainState:       func() Payload { return &ChainStateMsg{} },
	FuncHeaderHashes:     func() Payload { return &HeaderHashesMsg{} },
	FuncAck:              func() Payload { return &AckMsg{} },
}

// WriteEnvelope frames payload as a 4-byte big-endian length followed by a
// 1-byte function code and the payload's own encoding (spec.md 4.10 "4-byte
// big-endian length + serialized envelope").
func WriteEnvelope(w io.Writer, payload Payload) error {
	body := codec.NewWriter()
	body.Uint8(uint8(payload.FuncCode()))
	payload.Encode(body)
	buf := body.Bytes()

	if len(buf) > MaxEnvelopeLen {
		return errors.New("p2p: outbound envelope exceeds MaxEnvelopeLen")
	}
	var length [4]byte
	length[0] = byte(len(buf) >> 24)
	length[1] = byte(len(buf) >> 16)
	length[2] = byte(len(buf) >> 8)
	length[3] = byte(len(buf))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// ReadEnvelope reads one length-prefixed envelope from r and decodes its
// payload according to the embedded function code.
func ReadEnvelope(r io.Reader) (Payload, error) {
	payload, _, err := readEnvelopeCounted(r)
	return payload, err
}

// readEnvelopeCounted is ReadEnvelope plus the total byte count read off
// the wire (4-byte length prefix + payload), the quantity a peer's rate
// limiter charges against (spec.md 4.10 flow control).
func readEnvelopeCounted(r io.Reader) (Payload, int, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, 0, err
	}
	n := uint32(length[0])<<24 | uint32(length[1])<<16 | uint32(length[2])<<8 | uint32(length[3])
	if n > MaxEnvelopeLen {
		return nil, 0, errors.New("p2p: inbound envelope exceeds MaxEnvelopeLen")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, err
	}

	reader := codec.NewReader(buf)
	code := FuncCode(reader.Uint8())
	factory, ok := payloadFactories[code]
	if !ok {
		return nil, 0, errors.Wrapf(ErrUnknownFuncCode, "code %d", code)
	}
	payload := factory()
	if err := payload.Decode(reader); err != nil {
		return nil, 0, err
	}
	if err := reader.Finish(); err != nil {
		return nil, 0, err
	}
	return payload, len(length) + len(buf), nil
}
