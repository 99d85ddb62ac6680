package client

import (
	"testing"

	"github.com/framegrace/zrp/protocol"
)

func testSnapshot(stateID uint64, cols, rows int) protocol.ScreenSnapshot {
	rowData := make([]protocol.RowSnapshot, rows)
	for r := range rowData {
		cps := make([]uint32, cols)
		widths := make([]uint8, cols)
		ids := make([]uint16, cols)
		for c := range cps {
			cps[c] = ' '
			widths[c] = 1
		}
		rowData[r] = protocol.RowSnapshot{Codepoints: cps, Widths: widths, StyleIDs: ids}
	}
	return protocol.ScreenSnapshot{StateID: stateID, Cols: uint16(cols), Rows: uint16(rows), RowData: rowData}
}

func TestApplySnapshotSetsBaseline(t *testing.T) {
	s := New(4, 2, 0)
	result := s.ApplySnapshot(testSnapshot(5, 4, 2), 100, 10)
	if s.LastAppliedStateID() != 5 {
		t.Fatalf("last_applied_state_id = %d, want 5", s.LastAppliedStateID())
	}
	if result.Ack.LastAppliedStateID != 5 {
		t.Fatalf("ack.last_applied_state_id = %d, want 5", result.Ack.LastAppliedStateID)
	}
}

func TestApplyDeltaStaleIsDropped(t *testing.T) {
	s := New(4, 2, 0)
	s.ApplySnapshot(testSnapshot(5, 4, 2), 0, 0)
	result := s.ApplyDelta(protocol.ScreenDelta{BaseStateID: 4, StateID: 5}, 0, 0)
	if !result.Stale {
		t.Fatalf("expected stale delta to be dropped")
	}
}

func TestApplyDeltaBaseMismatchTriggersResnapshotAtThree(t *testing.T) {
	s := New(4, 2, 0)
	s.ApplySnapshot(testSnapshot(5, 4, 2), 0, 0)
	for i := 0; i < 2; i++ {
		result := s.ApplyDelta(protocol.ScreenDelta{BaseStateID: 999, StateID: 6}, 0, 0)
		if !result.BaseMismatch || result.RequestResnapshot {
			t.Fatalf("mismatch %d: got %+v", i, result)
		}
	}
	result := s.ApplyDelta(protocol.ScreenDelta{BaseStateID: 999, StateID: 6}, 0, 0)
	if !result.RequestResnapshot {
		t.Fatalf("expected resnapshot request on third consecutive mismatch")
	}
}

func TestApplyDeltaPatchesRow(t *testing.T) {
	s := New(4, 2, 0)
	s.ApplySnapshot(testSnapshot(1, 4, 2), 0, 0)
	delta := protocol.ScreenDelta{
		BaseStateID: 1,
		StateID:     2,
		RowPatches: []protocol.RowPatch{
			{Row: 0, Runs: []protocol.CellRun{{ColStart: 1, Codepoints: []uint32{'h', 'i'}, Widths: []uint8{1, 1}, StyleIDs: []uint16{0, 0}}}},
		},
	}
	result := s.ApplyDelta(delta, 0, 0)
	if result.Stale || result.BaseMismatch {
		t.Fatalf("unexpected result: %+v", result)
	}
	row := s.Frame().Rows[0]
	if row.Cells[1].Codepoint != 'h' || row.Cells[2].Codepoint != 'i' {
		t.Fatalf("row after patch = %+v", row.Cells)
	}
	if row.Cells[0].Codepoint != ' ' {
		t.Fatalf("untouched cell changed: %+v", row.Cells[0])
	}
}
