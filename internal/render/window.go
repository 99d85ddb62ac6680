// Package render implements the Render Window and Client Render State
// (spec.md §4.4, §4.5): per-client backpressure and the ack-driven
// baseline-advance state machine that selects snapshot vs delta.
package render

import "sync"

// DefaultMaxInflight is spec.md §4.4's default max_inflight.
const DefaultMaxInflight = 4

// Window bounds the number of unacked state_ids in flight to one client.
type Window struct {
	mu          sync.Mutex
	maxInflight int
	inflight    map[uint64]struct{}
}

// NewWindow returns a render window with the given max_inflight (0 uses
// the default).
func NewWindow(maxInflight int) *Window {
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	return &Window{maxInflight: maxInflight, inflight: make(map[uint64]struct{})}
}

// CanSend reports whether another state_id may be marked in flight.
func (w *Window) CanSend() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight) < w.maxInflight
}

// MarkSent records state_id as sent-and-unacked.
func (w *Window) MarkSent(stateID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[stateID] = struct{}{}
}

// OnStateAck removes every state_id <= lastApplied and returns how many
// were cleared.
func (w *Window) OnStateAck(lastApplied uint64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cleared := 0
	for id := range w.inflight {
		if id <= lastApplied {
			delete(w.inflight, id)
			cleared++
		}
	}
	return cleared
}

// IsExhausted reports whether the window is at capacity, the same
// threshold at which CanSend returns false and ClientState.PrepareUpdate
// emits nothing (neither a delta nor a snapshot) until an ack frees a slot.
func (w *Window) IsExhausted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight) >= w.maxInflight
}

// Reset clears every in-flight entry — used when a snapshot is emitted,
// since it establishes a fresh baseline independent of any prior in-flight
// deltas (spec.md §4.5 step 1: "clear render_window of older ids").
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight = make(map[uint64]struct{})
}

// Inflight reports the current in-flight count, for observability.
func (w *Window) Inflight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}
