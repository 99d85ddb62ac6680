// Package transport implements the Transport Router (spec.md §4.10): the
// datagram-vs-stream routing decision for outgoing render updates, stream
// framing, and the per-client bounded send queue. The Transport endpoint
// itself is an external collaborator per spec.md §1 ("specified only by
// the interface the core consumes") — StreamConn/DatagramConn below are
// that interface; ws_substrate.go and datagram_substrate.go provide one
// concrete demo implementation since no QUIC/WebTransport library exists
// in the example corpus (see DESIGN.md "Transport substrate").
package transport

import (
	"errors"
	"io"
	"log"
	"sync"

	humanize "github.com/dustin/go-humanize"

	"github.com/framegrace/zrp/internal/render"
	"github.com/framegrace/zrp/protocol"
)

// DefaultSendQueueDepth is spec.md §4.10's default per-client queue depth.
const DefaultSendQueueDepth = 32

// DefaultMaxDropsBeforeDisconnect is spec.md §4.10/§7's
// "three consecutive try_send Full → disconnect".
const DefaultMaxDropsBeforeDisconnect = 3

// StreamConn is the reliable bidirectional byte stream the Transport
// endpoint provides.
type StreamConn interface {
	io.Reader
	io.Writer
	Close() error
}

// DatagramConn is the best-effort bounded-size datagram channel the
// Transport endpoint provides, if the client negotiated datagram support.
type DatagramConn interface {
	SendDatagram(payload []byte) error
	Close() error
}

var ErrQueueFull = errors.New("transport: per-client send queue full")

type queuedFrame struct {
	msgType MessageTypeAlias
	payload []byte
}

// MessageTypeAlias avoids importing protocol twice under two names in
// call sites; it is exactly protocol.MessageType.
type MessageTypeAlias = protocol.MessageType

// Router owns one client's outgoing path: it decides datagram vs stream
// per render update, frames stream envelopes, and drains a bounded queue
// on its own goroutine so the session/render loop never blocks on I/O.
type Router struct {
	stream   StreamConn
	datagram DatagramConn

	maxFrameSize        int
	conservativeLimit   int
	datagramsNegotiated bool

	mu                   sync.Mutex
	queue                chan queuedFrame
	stop                 chan struct{}
	consecutiveFull      int
	closed               bool
	peerMaxDatagramBytes int

	onDisconnect func()
	wg           sync.WaitGroup
}

// NewRouter starts the per-client send task. onDisconnect is invoked
// (once) after DefaultMaxDropsBeforeDisconnect consecutive full-queue
// drops or a stream write error.
func NewRouter(stream StreamConn, datagram DatagramConn, datagramsNegotiated bool, conservativeLimit, queueDepth, maxFrameSize int, onDisconnect func()) *Router {
	if queueDepth <= 0 {
		queueDepth = DefaultSendQueueDepth
	}
	if conservativeLimit <= 0 {
		conservativeLimit = protocol.DefaultDatagramCapBytes
	}
	if maxFrameSize <= 0 {
		maxFrameSize = protocol.MaxStreamFrameSize
	}
	r := &Router{
		stream:              stream,
		datagram:            datagram,
		maxFrameSize:        maxFrameSize,
		conservativeLimit:   conservativeLimit,
		datagramsNegotiated: datagramsNegotiated,
		queue:               make(chan queuedFrame, queueDepth),
		stop:                make(chan struct{}),
		onDisconnect:        onDisconnect,
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// SetPeerMaxDatagramBytes records the per-client datagram size negotiated
// at handshake (spec.md §4.10/§4.11's ClientHello.max_datagram_size). A
// zero or negative value leaves the conservative limit as the only cap.
func (r *Router) SetPeerMaxDatagramBytes(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peerMaxDatagramBytes = n
}

// datagramLimit returns min(negotiated per-client max, conservative
// limit), per spec.md §4.10: "L <= min(transport.max_datagram_size,
// conservative_limit)".
func (r *Router) datagramLimit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := r.conservativeLimit
	if r.peerMaxDatagramBytes > 0 && r.peerMaxDatagramBytes < limit {
		limit = r.peerMaxDatagramBytes
	}
	return limit
}

// SendRenderUpdate implements spec.md §4.10's routing decision: a
// snapshot always goes on the stream; a delta goes as a datagram if it
// fits within min(negotiated max, conservative limit) and datagrams were
// negotiated, otherwise it is wrapped as a stream envelope. Datagram send
// failure falls back to stream.
func (r *Router) SendRenderUpdate(update *render.Update) error {
	if update == nil {
		return nil
	}
	switch update.Kind {
	case render.UpdateSnapshot:
		payload := protocol.EncodeScreenSnapshot(update.Snapshot)
		return r.enqueueStream(protocol.MsgScreenSnapshot, payload)
	case render.UpdateDelta:
		payload := protocol.EncodeScreenDelta(update.Delta)
		if r.datagramsNegotiated && r.datagram != nil && len(payload) <= r.datagramLimit() {
			datagram := protocol.EncodeDatagram(protocol.MsgScreenDelta, payload)
			if err := r.datagram.SendDatagram(datagram); err == nil {
				return nil
			}
			log.Printf("transport: datagram send failed (%s payload), falling back to stream", humanize.Bytes(uint64(len(datagram))))
		}
		return r.enqueueStream(protocol.MsgScreenDeltaStream, payload)
	default:
		return nil
	}
}

// SendStreamMessage enqueues any other stream-carried message type
// (ServerHello, GrantControl, ProtocolError, ...).
func (r *Router) SendStreamMessage(msgType protocol.MessageType, payload []byte) error {
	return r.enqueueStream(msgType, payload)
}

// SendDatagramMessage sends a datagram-carried message (StateAck, Ping,
// Pong) directly, bypassing the stream queue — datagrams are inherently
// best-effort and the render loop must not block on them.
func (r *Router) SendDatagramMessage(msgType protocol.MessageType, payload []byte) error {
	if r.datagram == nil {
		return errors.New("transport: no datagram channel negotiated")
	}
	return r.datagram.SendDatagram(protocol.EncodeDatagram(msgType, payload))
}

func (r *Router) enqueueStream(msgType protocol.MessageType, payload []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("transport: router closed")
	}
	r.mu.Unlock()

	select {
	case r.queue <- queuedFrame{msgType: msgType, payload: payload}:
		r.mu.Lock()
		r.consecutiveFull = 0
		r.mu.Unlock()
		return nil
	case <-r.stop:
		return errors.New("transport: router closed")
	default:
		r.mu.Lock()
		r.consecutiveFull++
		drop := r.consecutiveFull >= DefaultMaxDropsBeforeDisconnect
		r.mu.Unlock()
		if drop {
			r.closeAndNotify()
		}
		return ErrQueueFull
	}
}

func (r *Router) drain() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case frame := <-r.queue:
			if err := protocol.WriteStreamEnvelope(r.stream, frame.msgType, frame.payload); err != nil {
				log.Printf("transport: stream write failed: %v", err)
				r.closeAndNotify()
				return
			}
		}
	}
}

func (r *Router) closeAndNotify() {
	r.mu.Lock()
	alreadyClosed := r.closed
	r.mu.Unlock()
	r.Close()
	if !alreadyClosed && r.onDisconnect != nil {
		r.onDisconnect()
	}
}

// Close shuts down the send task and underlying connections. Idempotent.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.stop)
	r.mu.Unlock()
	r.stream.Close()
	if r.datagram != nil {
		r.datagram.Close()
	}
}
