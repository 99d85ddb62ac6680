package render

import (
	"sync"

	"github.com/framegrace/zrp/internal/delta"
	"github.com/framegrace/zrp/internal/frame"
	"github.com/framegrace/zrp/internal/style"
	"github.com/framegrace/zrp/protocol"
)

// UpdateKind discriminates a RenderUpdate's payload.
type UpdateKind uint8

const (
	UpdateSnapshot UpdateKind = iota
	UpdateDelta
)

// Update is what PrepareUpdate hands to the Transport Router.
type Update struct {
	Kind     UpdateKind
	Snapshot protocol.ScreenSnapshot
	Delta    protocol.ScreenDelta
}

// ClientState is the server-side per-attached-client render state
// (spec.md §4.5): acked baseline, pending (sent-but-unacked) frame, render
// window, and the needs_snapshot resync flag.
type ClientState struct {
	mu sync.Mutex

	ackedBaselineFrame      *frame.Frame
	ackedBaselineStateID    uint64
	ackedBaselineStyleCount int
	haveBaseline            bool

	pendingFrame      *frame.Frame
	pendingStateID    uint64
	pendingStyleCount int

	window        *Window
	needsSnapshot bool
}

// NewClientState returns a client render state that starts with
// needs_snapshot=true (spec.md §4.5), forcing the first render tick to be
// a snapshot.
func NewClientState(maxInflight int) *ClientState {
	return &ClientState{window: NewWindow(maxInflight), needsSnapshot: true}
}

// PrepareUpdate mirrors spec.md §4.5 prepare_update.
func (c *ClientState) PrepareUpdate(
	current *frame.Frame,
	currentStateID uint64,
	styleTable *style.Table,
	dirtyRows []int,
	deliveredInputWatermark uint64,
) *Update {
	c.mu.Lock()
	defer c.mu.Unlock()

	epochMismatch := c.haveBaseline && c.ackedBaselineFrame.StyleEpoch != current.StyleEpoch
	if c.needsSnapshot || !c.haveBaseline || epochMismatch {
		snap := delta.CreateSnapshot(current, currentStateID, styleTable, deliveredInputWatermark)
		c.pendingFrame = current
		c.pendingStateID = currentStateID
		c.pendingStyleCount = styleTable.CurrentCount()
		c.needsSnapshot = false
		c.window.Reset()
		c.window.MarkSent(currentStateID)
		return &Update{Kind: UpdateSnapshot, Snapshot: snap}
	}

	if !c.window.CanSend() {
		return nil
	}

	d := delta.Compute(
		c.ackedBaselineFrame, current, styleTable,
		c.ackedBaselineStateID, currentStateID, dirtyRows,
		c.ackedBaselineStyleCount, deliveredInputWatermark,
	)
	c.pendingFrame = current
	c.pendingStateID = currentStateID
	c.pendingStyleCount = styleTable.CurrentCount()
	c.window.MarkSent(currentStateID)
	return &Update{Kind: UpdateDelta, Delta: d}
}

// OnStateAck mirrors spec.md §4.5 on_state_ack: the ack-driven baseline
// advance that prevents delta chains — deltas are always rooted at a
// confirmed state, never a merely-sent one.
func (c *ClientState) OnStateAck(lastApplied uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.OnStateAck(lastApplied)
	if lastApplied >= c.pendingStateID && c.pendingFrame != nil {
		c.ackedBaselineFrame = c.pendingFrame
		c.ackedBaselineStateID = c.pendingStateID
		c.ackedBaselineStyleCount = c.pendingStyleCount
		c.haveBaseline = true
		c.pendingFrame = nil
	}
}

// ForceSnapshot is the client-initiated resync hook (RequestSnapshot).
func (c *ClientState) ForceSnapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.needsSnapshot = true
}

// ClearBaseline drops the acked baseline, forcing the next update to be a
// snapshot — used after Frame Store.Resize (spec.md §4.2's "forces all
// clients to snapshot").
func (c *ClientState) ClearBaseline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.haveBaseline = false
	c.needsSnapshot = true
}

// AckedBaselineStateID reports the client's confirmed baseline, used by
// RemoteSession to check invariant I3 against State History retention.
func (c *ClientState) AckedBaselineStateID() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ackedBaselineStateID, c.haveBaseline
}
