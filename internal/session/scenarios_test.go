// Scenario tests grounded on the teacher's in-process integration-test
// idiom (server/integration_test.go's recordingSink/net.Pipe shape,
// generalized here to call Session and client.SyncState directly rather
// than through a socket, since both are transport-agnostic by design).
// Each test name below corresponds to one of spec.md §8's worked
// scenarios.
package session

import (
	"testing"
	"time"

	"github.com/framegrace/zrp/client"
	"github.com/framegrace/zrp/internal/frame"
	"github.com/framegrace/zrp/internal/lease"
	"github.com/framegrace/zrp/internal/render"
	"github.com/framegrace/zrp/internal/resume"
	"github.com/framegrace/zrp/internal/style"
	"github.com/framegrace/zrp/protocol"
)

func newScenarioSession(t *testing.T, windowSize int) *Session {
	t.Helper()
	minter, err := resume.NewMinter(testKey(), time.Hour)
	if err != nil {
		t.Fatalf("new minter: %v", err)
	}
	cfg := Config{
		LeasePolicy:       lease.PolicyExplicitOnly,
		ControllerLeaseMs: 5000,
		RenderWindowSize:  windowSize,
		MaxInflightInputs: 8,
		InputGapTimeout:   time.Second,
		MaxClockSkew:      time.Minute,
		StyleReserveSlots: 65533, // limit = 65535 - reserve = 2, cheap to exhaust in S7
	}
	return New([16]byte{9, 9, 9}, "scenario", 80, 24, cfg, minter)
}

// S1: single-keystroke delta.
func TestScenarioSingleKeystrokeDelta(t *testing.T) {
	s := newScenarioSession(t, 4)
	id, _, _, _, err := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", nil, time.Now())
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}

	first, err := s.GetRenderUpdate(id)
	if err != nil {
		t.Fatalf("GetRenderUpdate: %v", err)
	}
	if first.Kind != render.UpdateSnapshot {
		t.Fatalf("first update kind = %v, want snapshot", first.Kind)
	}
	s.ApplyStateAck(id, protocol.StateAck{LastAppliedStateID: first.Snapshot.StateID})

	newStateID := s.CommitFrameUpdate(func(st *frame.Store) {
		st.UpdateRow(3, func(cells []frame.Cell) { cells[7] = frame.NewCell('X', 0) })
	})
	if newStateID != 1 {
		t.Fatalf("state_id = %d, want 1", newStateID)
	}

	update, err := s.GetRenderUpdate(id)
	if err != nil {
		t.Fatalf("GetRenderUpdate: %v", err)
	}
	if update.Kind != render.UpdateDelta {
		t.Fatalf("update kind = %v, want delta", update.Kind)
	}
	d := update.Delta
	if d.BaseStateID != 0 || d.StateID != 1 {
		t.Fatalf("delta base/state = %d/%d, want 0/1", d.BaseStateID, d.StateID)
	}
	if len(d.RowPatches) != 1 || d.RowPatches[0].Row != 3 {
		t.Fatalf("row patches = %+v, want exactly row 3", d.RowPatches)
	}
	run := d.RowPatches[0].Runs[0]
	if run.ColStart != 7 || len(run.Codepoints) != 1 || rune(run.Codepoints[0]) != 'X' {
		t.Fatalf("run = %+v, want col_start=7 codepoint='X'", run)
	}

	sync := client.New(80, 24, 1000)
	res := sync.ApplyDelta(d, 0, 0)
	if res.Stale || res.BaseMismatch {
		t.Fatalf("apply result = %+v, want clean apply", res)
	}
	cell, _ := sync.Frame().Rows[3].CellAt(7)
	if cell.Codepoint != 'X' {
		t.Fatalf("client cell (3,7) = %q, want 'X'", cell.Codepoint)
	}
}

// S2: datagram loss then recovery. The transport drops state 2's delta;
// once the client's ack for state 1 lands, the server's next delta is
// naturally rooted at 1, so state 3 applies cleanly and state 2 is
// skipped without the client ever noticing a gap.
func TestScenarioDatagramLossThenRecovery(t *testing.T) {
	s := newScenarioSession(t, 8)
	id, _, _, _, _ := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", nil, time.Now())
	sync := client.New(80, 24, 1000)

	snap, _ := s.GetRenderUpdate(id)
	s.ApplyStateAck(id, protocol.StateAck{LastAppliedStateID: snap.Snapshot.StateID})
	sync.ApplySnapshot(snap.Snapshot, 0, 0)

	s.CommitFrameUpdate(func(st *frame.Store) {
		st.UpdateRow(0, func(cells []frame.Cell) { cells[0] = frame.NewCell('1', 0) })
	})
	delta1, _ := s.GetRenderUpdate(id)
	if delta1.Delta.BaseStateID != 0 || delta1.Delta.StateID != 1 {
		t.Fatalf("delta1 base/state = %d/%d, want 0/1", delta1.Delta.BaseStateID, delta1.Delta.StateID)
	}
	res1 := sync.ApplyDelta(delta1.Delta, 0, 0)
	if res1.Stale || res1.BaseMismatch {
		t.Fatalf("apply delta1 = %+v, want clean apply", res1)
	}
	s.ApplyStateAck(id, protocol.StateAck{LastAppliedStateID: sync.LastAppliedStateID()})

	s.CommitFrameUpdate(func(st *frame.Store) {
		st.UpdateRow(0, func(cells []frame.Cell) { cells[0] = frame.NewCell('2', 0) })
	})
	_, _ = s.GetRenderUpdate(id) // delta for state 2 is produced but the transport drops it

	s.CommitFrameUpdate(func(st *frame.Store) {
		st.UpdateRow(0, func(cells []frame.Cell) { cells[0] = frame.NewCell('3', 0) })
	})
	delta3, _ := s.GetRenderUpdate(id)
	if delta3.Delta.BaseStateID != 1 || delta3.Delta.StateID != 3 {
		t.Fatalf("delta3 base/state = %d/%d, want 1/3 (rooted at the last acked baseline, skipping 2)", delta3.Delta.BaseStateID, delta3.Delta.StateID)
	}

	res3 := sync.ApplyDelta(delta3.Delta, 0, 0)
	if res3.Stale || res3.BaseMismatch {
		t.Fatalf("apply delta3 = %+v, want clean apply (base matches the client's own last_applied_state_id)", res3)
	}
	cell, _ := sync.Frame().Rows[0].CellAt(0)
	if cell.Codepoint != '3' {
		t.Fatalf("final cell (0,0) = %q, want '3' (state 2 skipped cleanly)", cell.Codepoint)
	}
	if sync.LastAppliedStateID() != 3 {
		t.Fatalf("last_applied_state_id = %d, want 3", sync.LastAppliedStateID())
	}
}

// S3: render window exhaustion with max_inflight=2. States 1..5 are
// produced with no acks; the server refuses a 3rd/4th in-flight delta,
// and once 2 is acked the next emission coalesces straight to 5.
func TestScenarioRenderWindowExhaustion(t *testing.T) {
	s := newScenarioSession(t, 2)
	id, _, _, _, _ := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", nil, time.Now())

	snap, _ := s.GetRenderUpdate(id)
	s.ApplyStateAck(id, protocol.StateAck{LastAppliedStateID: snap.Snapshot.StateID})

	var sent []*render.Update
	for i := 0; i < 5; i++ {
		s.CommitFrameUpdate(func(st *frame.Store) {
			st.UpdateRow(0, func(cells []frame.Cell) { cells[0] = frame.NewCell(rune('1'+i), 0) })
		})
		u, _ := s.GetRenderUpdate(id)
		sent = append(sent, u)
	}

	if sent[0] == nil || sent[0].Delta.StateID != 1 {
		t.Fatalf("update for state 1 = %+v, want a delta for state 1", sent[0])
	}
	if sent[1] == nil || sent[1].Delta.StateID != 2 {
		t.Fatalf("update for state 2 = %+v, want a delta for state 2", sent[1])
	}
	if sent[2] != nil {
		t.Fatalf("update for state 3 = %+v, want nil (window exhausted)", sent[2])
	}
	if sent[3] != nil {
		t.Fatalf("update for state 4 = %+v, want nil (window exhausted)", sent[3])
	}

	// Ack state 2: the cumulative ack frees both in-flight slots (1 and 2) and the next emission
	// coalesces straight to the latest state (5), rooted at 2.
	s.ApplyStateAck(id, protocol.StateAck{LastAppliedStateID: 2})
	coalesced, err := s.GetRenderUpdate(id)
	if err != nil {
		t.Fatalf("GetRenderUpdate: %v", err)
	}
	if coalesced.Kind != render.UpdateDelta || coalesced.Delta.BaseStateID != 2 || coalesced.Delta.StateID != 5 {
		t.Fatalf("coalesced update = %+v, want base=2 state=5", coalesced.Delta)
	}
}

// S4: lease takeover under explicit_only. B's unforced request is denied
// while A holds the lease; B's forced request takes over, revoking A and
// updating current_size to B's requested viewport.
func TestScenarioLeaseTakeoverExplicitOnly(t *testing.T) {
	s := newScenarioSession(t, 4)
	a, _, _, _, _ := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", nil, time.Now())
	b, _, _, _, _ := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", nil, time.Now())

	now := time.Now()
	out, err := s.ApplyLeaseMessage(a, LeaseRequest{Request: &protocol.RequestControl{DesiredCols: 80, DesiredRows: 24}}, now)
	if err != nil || out.Kind != lease.ReplyGrant {
		t.Fatalf("A's request_control = %+v, err=%v, want a clean grant", out, err)
	}

	deny, err := s.ApplyLeaseMessage(b, LeaseRequest{Request: &protocol.RequestControl{Force: false, DesiredCols: 100, DesiredRows: 30}}, now)
	if err != nil {
		t.Fatalf("B's unforced request_control: %v", err)
	}
	if deny.Kind != lease.ReplyDeny {
		t.Fatalf("B's unforced request_control kind = %v, want deny", deny.Kind)
	}

	takeover, err := s.ApplyLeaseMessage(b, LeaseRequest{Request: &protocol.RequestControl{Force: true, DesiredCols: 100, DesiredRows: 30}}, now)
	if err != nil {
		t.Fatalf("B's forced request_control: %v", err)
	}
	if takeover.Kind != lease.ReplyGrant {
		t.Fatalf("B's forced request_control kind = %v, want grant", takeover.Kind)
	}
	if takeover.Event == nil || takeover.Event.RevokeReason != lease.RevokeTakeover || takeover.Event.RevokedLease.OwnerClientID != a {
		t.Fatalf("takeover event = %+v, want a takeover revoke naming A", takeover.Event)
	}
	if takeover.Reply.OwnerClientID != b || takeover.Reply.CurrentSize != (lease.Size{Cols: 100, Rows: 30}) {
		t.Fatalf("new lease = %+v, want owner=B size=100x30", takeover.Reply)
	}
}

// S5: input from a non-controller client is acked but never forwarded,
// and the session's frame is left untouched.
func TestScenarioInputFromViewer(t *testing.T) {
	s := newScenarioSession(t, 4)
	controller, _, _, _, _ := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", nil, time.Now())
	viewer, _, _, _, _ := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", nil, time.Now())
	s.ApplyLeaseMessage(controller, LeaseRequest{Request: &protocol.RequestControl{DesiredCols: 80, DesiredRows: 24}}, time.Now())

	before := s.frames.CurrentStateID()
	delivered, ack, err := s.ProcessInput(viewer, protocol.InputEvent{InputSeq: 1, Kind: protocol.PayloadTextUTF8, Text: "x"}, time.Now())
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if delivered != nil {
		t.Fatalf("viewer input forwarded = %v, want nil", delivered)
	}
	if ack.AckedSeq != 1 {
		t.Fatalf("acked_seq = %d, want 1", ack.AckedSeq)
	}
	if s.frames.CurrentStateID() != before {
		t.Fatalf("state_id advanced from viewer input, want unchanged")
	}
}

// S6: a resume token replayed across a disconnect/reconnect reuses the
// original client_id, resumes as Resurrected (forcing a fresh snapshot via
// a brand-new ClientState), and does not automatically regrant the lease
// the client held before disconnecting.
func TestScenarioResumeTokenReplayAcrossDisconnect(t *testing.T) {
	s := newScenarioSession(t, 4)
	now := time.Now()
	id, state, _, token, err := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", nil, now)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if state != protocol.SessionStateCreated {
		t.Fatalf("first attach state = %v, want Created", state)
	}
	if len(token) == 0 {
		t.Fatalf("expected a minted resume token")
	}
	s.ApplyLeaseMessage(id, LeaseRequest{Request: &protocol.RequestControl{DesiredCols: 80, DesiredRows: 24}}, now)

	ev := s.RemoveClient(id)
	if ev == nil || ev.RevokeReason != lease.RevokeDisconnect {
		t.Fatalf("disconnect event = %+v, want a disconnect revoke", ev)
	}

	reID, reState, heldLease, _, err := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", token, now)
	if err != nil {
		t.Fatalf("resume AddClient: %v", err)
	}
	if reState != protocol.SessionStateResurrected {
		t.Fatalf("resume state = %v, want Resurrected", reState)
	}
	if reID != id {
		t.Fatalf("resumed client_id = %d, want original %d", reID, id)
	}
	if heldLease != nil {
		t.Fatalf("resume must not auto-regrant the lease, got %+v", heldLease)
	}

	update, err := s.GetRenderUpdate(reID)
	if err != nil {
		t.Fatalf("GetRenderUpdate: %v", err)
	}
	if update.Kind != render.UpdateSnapshot {
		t.Fatalf("post-resume update kind = %v, want a fresh snapshot", update.Kind)
	}
}

// S7: the style table nears exhaustion, bumps its epoch, and the next
// render to the already-baselined client is forced to a style_table_reset
// snapshot rather than a delta.
func TestScenarioStyleEpochBump(t *testing.T) {
	s := newScenarioSession(t, 4)
	id, _, _, _, _ := s.AddClient(lease.Size{Cols: 80, Rows: 24}, false, 0, "", nil, time.Now())

	first, _ := s.GetRenderUpdate(id)
	s.ApplyStateAck(id, protocol.StateAck{LastAppliedStateID: first.Snapshot.StateID})
	s.CommitFrameUpdate(nil)
	delta, _ := s.GetRenderUpdate(id)
	if delta.Kind != render.UpdateDelta {
		t.Fatalf("update kind = %v, want delta before any epoch bump", delta.Kind)
	}
	s.ApplyStateAck(id, protocol.StateAck{LastAppliedStateID: delta.Delta.StateID})

	startEpoch := s.styles.Epoch()
	// StyleReserveSlots=65533 leaves a limit of 2 distinct entries
	// (including the reserved default at id 0); the second distinct
	// interned style pushes the table over that limit and bumps the epoch.
	s.InternStyle(style.Style{Flags: style.Bold})
	s.InternStyle(style.Style{Flags: style.Italic})
	if s.styles.Epoch() == startEpoch {
		t.Fatalf("style epoch = %d, want a bump past %d", s.styles.Epoch(), startEpoch)
	}

	s.CommitFrameUpdate(nil)
	post, err := s.GetRenderUpdate(id)
	if err != nil {
		t.Fatalf("GetRenderUpdate: %v", err)
	}
	if post.Kind != render.UpdateSnapshot {
		t.Fatalf("update kind after epoch bump = %v, want a forced snapshot", post.Kind)
	}
	if !post.Snapshot.StyleTableReset {
		t.Fatalf("snapshot.StyleTableReset = false, want true")
	}

	sync := client.New(80, 24, 1000)
	res := sync.ApplySnapshot(post.Snapshot, 0, 0)
	if res.Stale || res.BaseMismatch {
		t.Fatalf("apply post-bump snapshot = %+v, want clean apply", res)
	}
}
