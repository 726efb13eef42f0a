// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Hamza1s34/Qbitcoin/logs"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

var log, _ = logs.Get(logs.SubsystemTags.P2PL)

// ErrGenesisMismatch is the handshake failure that earns an immediate ban
// (spec.md 4.10). The ban lasts the peer table's configured ban duration
// like any other; it is not permanent.
var ErrGenesisMismatch = errors.New("p2p: peer genesis hash does not match ours")

// ErrPeerTimeout is returned by a read that exceeds the peer's idle
// deadline (spec.md 5 "Cancellation and timeouts").
var ErrPeerTimeout = errors.New("p2p: peer read timed out")

// throttleViolationLimit is how many times in a row a read may have to wait
// on the rate limiter before the peer is judged to be ignoring its declared
// cap and disconnected (spec.md 4.10 "on repeated violations banned").
const throttleViolationLimit = 5

// sendQueueDepth bounds how many outbound messages may be queued for a slow
// peer before further messages to it are dropped rather than let it
// back-pressure the node.
const sendQueueDepth = 256

// Peer is one established P2P session: a framed message stream over conn,
// an idle read deadline, and a token-bucket rate limiter enforcing the
// cap the remote side declared at handshake.
type Peer struct {
	Addr     string
	Outbound bool

	conn        net.Conn
	idleTimeout time.Duration
	limiter     *rate.Limiter

	send chan Payload
	done chan struct{}

	Version VersionMsg

	closeOnce sync.Once

	violations    int
	bytesReceived uint64
	bytesAcked    uint64
}

// ackThreshold is how many unacknowledged received bytes accumulate before
// a P2P_ACK is sent back to the sender (spec.md 4.10 "P2P_ACK carries a
// cumulative byte counter used for flow control").
const ackThreshold = 64 * 1024

// newPeer wraps an established connection. declaredRateCap bounds how many
// bytes/sec the remote side is allowed to send before reads start blocking
// on the limiter (spec.md 4.10 flow control).
func newPeer(conn net.Conn, outbound bool, idleTimeout time.Duration, declaredRateCap uint64) *Peer {
	cap := int(declaredRateCap)
	if cap <= 0 {
		cap = 1 << 20
	}
	return &Peer{
		Addr:        conn.RemoteAddr().String(),
		Outbound:    outbound,
		conn:        conn,
		idleTimeout: idleTimeout,
		limiter:     rate.NewLimiter(rate.Limit(cap), cap*2),
		send:        make(chan Payload, sendQueueDepth),
		done:        make(chan struct{}),
	}
}

// Handshake performs the version/verack exchange spec.md 4.10 describes. It
// returns ErrGenesisMismatch (never wrapped) when the remote's declared
// genesis hash does not match ours, so the caller can ban immediately.
func (p *Peer) Handshake(ours VersionMsg) error {
	if p.Outbound {
		if err := p.writeOne(&ours); err != nil {
			return errors.Wrap(err, "sending version")
		}
		theirs, err := p.readOneVersion()
		if err != nil {
			return err
		}
		if theirs.GenesisHash != ours.GenesisHash {
			return ErrGenesisMismatch
		}
		p.Version = theirs
		return nil
	}

	theirs, err := p.readOneVersion()
	if err != nil {
		return err
	}
	if theirs.GenesisHash != ours.GenesisHash {
		return ErrGenesisMismatch
	}
	p.Version = theirs
	if err := p.writeOne(&ours); err != nil {
		return errors.Wrap(err, "sending version")
	}
	return nil
}

func (p *Peer) readOneVersion() (VersionMsg, error) {
	payload, err := p.readOne()
	if err != nil {
		return VersionMsg{}, err
	}
	v, ok := payload.(*VersionMsg)
	if !ok {
		return VersionMsg{}, errors.Errorf("p2p: expected VE, got %s", payload.FuncCode())
	}
	return *v, nil
}

func (p *Peer) writeOne(payload Payload) error {
	return WriteEnvelope(p.conn, payload)
}

// readOne reads one envelope, enforcing the idle deadline and the rate
// limiter. It counts consecutive throttle events so the caller can decide
// to disconnect a peer that is persistently over its declared cap.
func (p *Peer) readOne() (Payload, error) {
	if p.idleTimeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(p.idleTimeout))
	}
	payload, n, err := readEnvelopeCounted(p.conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrPeerTimeout
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.idleTimeout+5*time.Second)
	waitStart := time.Now()
	werr := p.limiter.WaitN(ctx, n)
	cancel()
	if werr != nil {
		return nil, errors.Wrap(werr, "rate limiter context")
	}
	if time.Since(waitStart) > 200*time.Millisecond {
		p.violations++
	} else {
		p.violations = 0
	}
	p.bytesReceived += uint64(n)
	if p.bytesReceived-p.bytesAcked >= ackThreshold {
		p.bytesAcked = p.bytesReceived
		p.Send(&AckMsg{TotalBytesReceived: p.bytesReceived})
	}
	return payload, nil
}

// Throttled reports whether this peer has exceeded its declared rate
// enough consecutive times to warrant disconnection and a ban.
func (p *Peer) Throttled() bool {
	return p.violations >= throttleViolationLimit
}

// Send queues payload for delivery; if the peer's send queue is already
// full the message is dropped rather than blocking the caller, on the
// assumption a slow peer will be reaped by its idle timeout regardless.
func (p *Peer) Send(payload Payload) {
	select {
	case p.send <- payload:
	default:
		log.Debugf("p2p: dropping message to slow peer %s", p.Addr)
	}
}

// runWriter drains the send queue to the connection until Close is called.
func (p *Peer) runWriter() {
	for {
		select {
		case <-p.done:
			return
		case payload := <-p.send:
			if err := p.writeOne(payload); err != nil {
				log.Debugf("p2p: write to %s failed: %v", p.Addr, err)
				p.Close()
				return
			}
		}
	}
}

// runReader reads envelopes until Close or a read error, handing each
// decoded payload to onMessage.
func (p *Peer) runReader(onMessage func(*Peer, Payload)) {
	for {
		payload, err := p.readOne()
		if err != nil {
			select {
			case <-p.done:
			default:
				log.Debugf("p2p: read from %s failed: %v", p.Addr, err)
			}
			p.Close()
			return
		}
		onMessage(p, payload)
	}
}

// Close shuts the connection down; safe to call more than once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// Done reports when the peer session has ended.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}
