package session

import (
	"testing"
	"time"

	"github.com/framegrace/zrp/internal/frame"
	"github.com/framegrace/zrp/internal/lease"
	"github.com/framegrace/zrp/internal/render"
	"github.com/framegrace/zrp/internal/resume"
	"github.com/framegrace/zrp/protocol"
)

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	minter, err := resume.NewMinter(testKey(), time.Hour)
	if err != nil {
		t.Fatalf("new minter: %v", err)
	}
	cfg := Config{
		LeasePolicy:       lease.PolicyLastWriterWins,
		ControllerLeaseMs: 5000,
		RenderWindowSize:  4,
		MaxInflightInputs: 8,
		InputGapTimeout:   time.Second,
		MaxClockSkew:      time.Minute,
	}
	return New([16]byte{1, 2, 3}, "test", 10, 4, cfg, minter)
}

func TestAddClientFirstIsCreated(t *testing.T) {
	s := newTestSession(t)
	id, state, l, token, err := s.AddClient(lease.Size{Cols: 10, Rows: 4}, false, 0, "", nil, time.Now())
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if id != 1 {
		t.Fatalf("client id = %d, want 1", id)
	}
	if state != protocol.SessionStateCreated {
		t.Fatalf("state = %v, want Created", state)
	}
	if l != nil {
		t.Fatalf("expected no lease held yet, got %+v", l)
	}
	if len(token) == 0 {
		t.Fatalf("expected a minted resume token")
	}
}

func TestAddClientRejectsWrongBearerToken(t *testing.T) {
	s := newTestSession(t)
	s.config.BearerTokenSecret = "correct-horse"
	_, _, _, _, err := s.AddClient(lease.Size{}, false, 0, "wrong", nil, time.Now())
	if err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRemoveClientReleasesLease(t *testing.T) {
	s := newTestSession(t)
	id, _, _, _, _ := s.AddClient(lease.Size{Cols: 10, Rows: 4}, false, 0, "", nil, time.Now())
	_, err := s.ApplyLeaseMessage(id, LeaseRequest{Request: &protocol.RequestControl{DesiredCols: 10, DesiredRows: 4}}, time.Now())
	if err != nil {
		t.Fatalf("ApplyLeaseMessage: %v", err)
	}
	ev := s.RemoveClient(id)
	if ev == nil || ev.RevokedLease == nil || ev.RevokeReason != lease.RevokeDisconnect {
		t.Fatalf("expected a disconnect revoke event, got %+v", ev)
	}
}

func TestProcessInputGatedByLease(t *testing.T) {
	s := newTestSession(t)
	controller, _, _, _, _ := s.AddClient(lease.Size{Cols: 10, Rows: 4}, false, 0, "", nil, time.Now())
	observer, _, _, _, _ := s.AddClient(lease.Size{Cols: 10, Rows: 4}, false, 0, "", nil, time.Now())

	s.ApplyLeaseMessage(controller, LeaseRequest{Request: &protocol.RequestControl{DesiredCols: 10, DesiredRows: 4}}, time.Now())

	now := time.Now()
	delivered, ack, err := s.ProcessInput(observer, protocol.InputEvent{InputSeq: 1, Kind: protocol.PayloadTextUTF8, Text: "x"}, now)
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if delivered != nil {
		t.Fatalf("non-controller input should not be forwarded, got %v", delivered)
	}
	if ack.AckedSeq != 1 {
		t.Fatalf("acked_seq = %d, want 1 (ack semantics preserved for non-controller)", ack.AckedSeq)
	}

	delivered, ack, err = s.ProcessInput(controller, protocol.InputEvent{InputSeq: 1, Kind: protocol.PayloadTextUTF8, Text: "y"}, now)
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("controller input should be forwarded, got %v", delivered)
	}
}

func TestProcessInputUnknownClient(t *testing.T) {
	s := newTestSession(t)
	_, _, err := s.ProcessInput(999, protocol.InputEvent{InputSeq: 1}, time.Now())
	if err != ErrUnknownClient {
		t.Fatalf("err = %v, want ErrUnknownClient", err)
	}
}

func TestGetRenderUpdateFirstIsSnapshot(t *testing.T) {
	s := newTestSession(t)
	id, _, _, _, _ := s.AddClient(lease.Size{Cols: 10, Rows: 4}, false, 0, "", nil, time.Now())
	update, err := s.GetRenderUpdate(id)
	if err != nil {
		t.Fatalf("GetRenderUpdate: %v", err)
	}
	if update == nil || update.Kind != render.UpdateSnapshot {
		t.Fatalf("expected an initial snapshot, got %+v", update)
	}
}

func TestCommitFrameUpdateAdvancesStateAndHistory(t *testing.T) {
	s := newTestSession(t)
	before := s.frames.CurrentStateID()
	newID := s.CommitFrameUpdate(func(st *frame.Store) {
		st.UpdateRow(0, func(cells []frame.Cell) {
			cells[0] = frame.NewCell('x', 0)
		})
	})
	if newID != before+1 {
		t.Fatalf("state_id = %d, want %d", newID, before+1)
	}
	if _, ok := s.HistoryLookup(before); !ok {
		t.Fatalf("expected prior state_id %d recorded in history", before)
	}
}

func TestApplyRequestSnapshotForcesNextSnapshot(t *testing.T) {
	s := newTestSession(t)
	id, _, _, _, _ := s.AddClient(lease.Size{Cols: 10, Rows: 4}, false, 0, "", nil, time.Now())
	first, _ := s.GetRenderUpdate(id)
	s.ApplyStateAck(id, protocol.StateAck{LastAppliedStateID: firstStateID(first)})
	s.CommitFrameUpdate(nil)
	second, _ := s.GetRenderUpdate(id)
	if second.Kind != render.UpdateDelta {
		t.Fatalf("expected a delta after baseline ack, got %v", second.Kind)
	}

	if err := s.ApplyRequestSnapshot(id, "client_requested", 0); err != nil {
		t.Fatalf("ApplyRequestSnapshot: %v", err)
	}
	s.CommitFrameUpdate(nil)
	third, _ := s.GetRenderUpdate(id)
	if third.Kind != render.UpdateSnapshot {
		t.Fatalf("expected a forced snapshot, got %v", third.Kind)
	}
}

func firstStateID(u *render.Update) uint64 {
	if u.Kind == render.UpdateSnapshot {
		return u.Snapshot.StateID
	}
	return u.Delta.StateID
}
