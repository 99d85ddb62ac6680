package render

import (
	"testing"

	"github.com/framegrace/zrp/internal/frame"
	"github.com/framegrace/zrp/internal/style"
)

func TestFirstUpdateIsSnapshot(t *testing.T) {
	store := frame.NewStore(10, 3)
	styleTable := style.NewTable(0)
	cur := store.Snapshot()
	id := store.AdvanceState()

	cs := NewClientState(4)
	upd := cs.PrepareUpdate(cur, id, styleTable, nil, 0)
	if upd == nil || upd.Kind != UpdateSnapshot {
		t.Fatalf("first update = %+v, want Snapshot", upd)
	}
}

func TestAckAdvancesBaselineNotPending(t *testing.T) {
	store := frame.NewStore(5, 2)
	styleTable := style.NewTable(0)
	cs := NewClientState(4)

	cur := store.Snapshot()
	id := store.AdvanceState()
	cs.PrepareUpdate(cur, id, styleTable, nil, 0) // snapshot, pending=id

	baseline, ok := cs.AckedBaselineStateID()
	if ok {
		t.Fatalf("baseline should be unset before any ack, got %d", baseline)
	}

	cs.OnStateAck(id)
	baseline, ok = cs.AckedBaselineStateID()
	if !ok || baseline != id {
		t.Fatalf("baseline = %d, ok=%v, want %d", baseline, ok, id)
	}
}

func TestWindowExhaustionRefusesEmission(t *testing.T) {
	store := frame.NewStore(5, 2)
	styleTable := style.NewTable(0)
	cs := NewClientState(2) // max_inflight = 2

	cur := store.Snapshot()
	id := store.AdvanceState()
	cs.PrepareUpdate(cur, id, styleTable, nil, 0)
	cs.OnStateAck(id)

	store.UpdateRow(0, func(c []frame.Cell) { c[0] = frame.NewCell('a', 0) })
	id2 := store.AdvanceState()
	d2, _ := store.DirtyRows(id2)
	u2 := cs.PrepareUpdate(store.Snapshot(), id2, styleTable, d2, 0)
	if u2 == nil || u2.Kind != UpdateDelta {
		t.Fatalf("expected delta update, got %+v", u2)
	}

	store.UpdateRow(0, func(c []frame.Cell) { c[1] = frame.NewCell('b', 0) })
	id3 := store.AdvanceState()
	d3, _ := store.DirtyRows(id3)
	u3 := cs.PrepareUpdate(store.Snapshot(), id3, styleTable, d3, 0)
	if u3 == nil || u3.Kind != UpdateDelta {
		t.Fatalf("expected second delta (window not yet exhausted), got %+v", u3)
	}

	store.UpdateRow(0, func(c []frame.Cell) { c[2] = frame.NewCell('c', 0) })
	id4 := store.AdvanceState()
	d4, _ := store.DirtyRows(id4)
	u4 := cs.PrepareUpdate(store.Snapshot(), id4, styleTable, d4, 0)
	if u4 != nil {
		t.Fatalf("expected nil (window exhausted, two unacked in flight), got %+v", u4)
	}
}
