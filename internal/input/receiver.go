// Package input implements the Input Receiver/Sender (spec.md §4.7):
// the per-client monotonic sequence-number gate that produces cumulative
// acks, and the EWMA RTT estimator shared by server and client.
package input

import (
	"time"

	"github.com/framegrace/zrp/protocol"
)

// DefaultBufferCap is spec.md §4.7's default out-of-order reorder buffer
// size (also exposed as max_inflight_inputs in runtime configuration).
const DefaultBufferCap = 256

// DefaultGapTimeout is spec.md §4.7's input_gap_timeout.
const DefaultGapTimeout = 2 * time.Second

// ErrFlowControl is returned when the reorder buffer overflows or a gap
// persists past the timeout; the caller must disconnect the client
// (spec.md §7 "Input violation ... disconnect with flow_control").
type ErrFlowControl struct{ Reason string }

func (e *ErrFlowControl) Error() string { return "input: flow control violation: " + e.Reason }

// Receiver gates one client's inbound InputEvent stream: duplicates and
// out-of-order-beyond-buffer are rejected, in-order events are delivered
// with a cumulative ack.
type Receiver struct {
	contiguousAcked uint64
	buffer          map[uint64]protocol.InputEvent
	bufferCap       int
	gapTimeout      time.Duration
	gapSince        time.Time
}

// NewReceiver returns a receiver with contiguous_acked=0 (no input
// delivered yet).
func NewReceiver(bufferCap int, gapTimeout time.Duration) *Receiver {
	if bufferCap <= 0 {
		bufferCap = DefaultBufferCap
	}
	if gapTimeout <= 0 {
		gapTimeout = DefaultGapTimeout
	}
	return &Receiver{buffer: make(map[uint64]protocol.InputEvent), bufferCap: bufferCap, gapTimeout: gapTimeout}
}

// Deliver processes one inbound InputEvent. It returns the events now
// ready for delivery to the PTY sink in seq order (possibly draining
// buffered events made contiguous by this arrival), the InputAck to send,
// and whether this event was accepted, either delivered now or buffered
// out of order (false only for a silently dropped duplicate, for which
// Deliver returns an empty InputAck).
func (r *Receiver) Deliver(evt protocol.InputEvent, now time.Time) ([]protocol.InputEvent, protocol.InputAck, bool, error) {
	if evt.InputSeq <= r.contiguousAcked {
		return nil, protocol.InputAck{}, false, nil // duplicate: drop silently
	}

	var delivered []protocol.InputEvent

	if evt.InputSeq == r.contiguousAcked+1 {
		delivered = append(delivered, evt)
		r.contiguousAcked = evt.InputSeq
		for {
			next, ok := r.buffer[r.contiguousAcked+1]
			if !ok {
				break
			}
			delete(r.buffer, r.contiguousAcked+1)
			delivered = append(delivered, next)
			r.contiguousAcked++
		}
	} else {
		if _, exists := r.buffer[evt.InputSeq]; !exists && len(r.buffer) >= r.bufferCap {
			return nil, protocol.InputAck{}, false, &ErrFlowControl{Reason: "reorder buffer full"}
		}
		r.buffer[evt.InputSeq] = evt
		if r.gapSince.IsZero() {
			r.gapSince = now
		}
	}

	if len(r.buffer) == 0 {
		r.gapSince = time.Time{}
	} else if !r.gapSince.IsZero() && now.Sub(r.gapSince) > r.gapTimeout {
		return nil, protocol.InputAck{}, false, &ErrFlowControl{Reason: "gap exceeded input_gap_timeout"}
	}

	ack := protocol.InputAck{
		AckedSeq:           r.contiguousAcked,
		RTTSampleSeq:       evt.InputSeq,
		EchoedClientTimeMs: evt.ClientTimeMs,
	}
	return delivered, ack, true, nil
}

// ContiguousAcked returns the current cumulative-ack watermark; this is
// also the delivered_input_watermark the render path attaches to outgoing
// state (pinned Open Question (b) in SPEC_FULL.md §13: it may repeat
// across states but never regresses).
func (r *Receiver) ContiguousAcked() uint64 {
	return r.contiguousAcked
}
