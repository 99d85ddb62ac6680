package frame

import "testing"

func TestAdvanceStateMonotonic(t *testing.T) {
	s := NewStore(80, 24)
	var last uint64
	for i := 0; i < 5; i++ {
		id := s.AdvanceState()
		if id <= last {
			t.Fatalf("state_id did not increase: %d after %d", id, last)
		}
		last = id
	}
}

func TestUpdateRowMarksDirtyAndPreservesOldRowIdentity(t *testing.T) {
	s := NewStore(10, 3)
	before := s.Snapshot()
	s.UpdateRow(1, func(cells []Cell) {
		cells[0] = NewCell('X', 0)
	})
	after := s.AdvanceState()
	dirty, ok := s.DirtyRows(after)
	if !ok || len(dirty) != 1 || dirty[0] != 1 {
		t.Fatalf("dirty rows = %v, ok=%v, want [1]", dirty, ok)
	}
	// Row 0 (untouched) must remain the same pointer across the snapshot
	// boundary — this is the pointer-equality invariant the delta engine
	// depends on.
	current := s.Snapshot()
	if before.Rows[0] != current.Rows[0] {
		t.Fatalf("untouched row pointer changed across mutation")
	}
	if before.Rows[1] == current.Rows[1] {
		t.Fatalf("mutated row pointer did not change")
	}
}

func TestResizeMarksEveryRowDirty(t *testing.T) {
	s := NewStore(5, 2)
	s.AdvanceState()
	s.Resize(8, 4)
	id := s.AdvanceState()
	dirty, ok := s.DirtyRows(id)
	if !ok || len(dirty) != 4 {
		t.Fatalf("dirty rows after resize = %v", dirty)
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(2)
	f1, f2, f3 := &Frame{}, &Frame{}, &Frame{}
	h.Append(1, f1)
	h.Append(2, f2)
	h.Append(3, f3)
	if _, ok := h.Get(1); ok {
		t.Fatalf("state 1 should have been evicted")
	}
	if got, ok := h.Get(3); !ok || got != f3 {
		t.Fatalf("state 3 missing or wrong pointer")
	}
	if oldest, ok := h.OldestStateID(); !ok || oldest != 2 {
		t.Fatalf("oldest = %d, ok=%v, want 2", oldest, ok)
	}
}
