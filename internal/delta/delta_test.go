package delta

import (
	"testing"

	"github.com/framegrace/zrp/internal/frame"
	"github.com/framegrace/zrp/internal/style"
)

func TestComputeSingleCellChange(t *testing.T) {
	store := frame.NewStore(10, 3)
	styleTable := style.NewTable(0)
	base := store.Snapshot()
	baseID := store.AdvanceState()

	store.UpdateRow(1, func(cells []frame.Cell) {
		cells[4] = frame.NewCell('X', 0)
	})
	curID := store.AdvanceState()
	dirty, _ := store.DirtyRows(curID)
	cur := store.Snapshot()

	d := Compute(base, cur, styleTable, baseID, curID, dirty, 1, 0)

	if len(d.RowPatches) != 1 {
		t.Fatalf("row patches = %d, want 1 (P4 sparse patches)", len(d.RowPatches))
	}
	patch := d.RowPatches[0]
	if patch.Row != 1 {
		t.Fatalf("patched row = %d, want 1", patch.Row)
	}
	if len(patch.Runs) != 1 || patch.Runs[0].ColStart != 4 || len(patch.Runs[0].Codepoints) != 1 {
		t.Fatalf("runs = %+v, want single run at col 4 length 1", patch.Runs)
	}
	if patch.Runs[0].Codepoints[0] != 'X' {
		t.Fatalf("run codepoint = %c, want X", patch.Runs[0].Codepoints[0])
	}
}

func TestComputeUnchangedRowsEmitNothing(t *testing.T) {
	store := frame.NewStore(5, 4)
	styleTable := style.NewTable(0)
	base := store.Snapshot()
	baseID := store.AdvanceState()
	// no mutation
	curID := store.AdvanceState()
	cur := store.Snapshot()
	dirty, _ := store.DirtyRows(curID)

	d := Compute(base, cur, styleTable, baseID, curID, dirty, 1, 0)
	if len(d.RowPatches) != 0 {
		t.Fatalf("expected no row patches for unchanged frame, got %d", len(d.RowPatches))
	}
}

func TestCreateSnapshotCoversEveryRow(t *testing.T) {
	store := frame.NewStore(8, 5)
	styleTable := style.NewTable(0)
	cur := store.Snapshot()
	id := store.AdvanceState()

	snap := CreateSnapshot(cur, id, styleTable, 0)
	if len(snap.RowData) != 5 {
		t.Fatalf("snapshot rows = %d, want 5", len(snap.RowData))
	}
	if !snap.StyleTableReset {
		t.Fatalf("snapshot must always set style_table_reset")
	}
	if len(snap.Styles) != 1 { // default style only
		t.Fatalf("snapshot styles = %d, want 1 (default)", len(snap.Styles))
	}
}
