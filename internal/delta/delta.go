// Package delta implements the Delta Engine (spec.md §4.3): sparse
// row-patch deltas computed via row-pointer equality plus intra-row run
// extraction, and full-frame snapshots.
package delta

import (
	"github.com/framegrace/zrp/internal/frame"
	"github.com/framegrace/zrp/internal/style"
	"github.com/framegrace/zrp/protocol"
)

// Compute mirrors spec.md §4.3 compute_delta. dirtyRows, if non-nil, is
// the sorted dirty-row set captured by the Frame Store for currentStateID;
// if nil, candidates are derived from the complement of the row-pointer
// equality set across the overlap range. baseStyleCount is the style
// count known to the client as of baseStateID (styles_added conservatively
// covers every id from there to the table's current count, per spec.md
// §4.3's "conservatively attaches all styles introduced since baseline's
// count"). deliveredInputWatermark is supplied by the Input Receiver
// (pinned Open Question (b), see SPEC_FULL.md §13: it advances to
// contiguous_acked even when no new input was delivered this state).
func Compute(
	baseline, current *frame.Frame,
	styleTable *style.Table,
	baseStateID, currentStateID uint64,
	dirtyRows []int,
	baseStyleCount int,
	deliveredInputWatermark uint64,
) protocol.ScreenDelta {
	candidates := candidateRows(baseline, current, dirtyRows)

	d := protocol.ScreenDelta{
		BaseStateID:             baseStateID,
		StateID:                 currentStateID,
		Cursor:                  cursorWire(current.Cursor),
		DeliveredInputWatermark: deliveredInputWatermark,
	}

	for _, r := range candidates {
		var baseRow, curRow *frame.Row
		if r < len(baseline.Rows) {
			baseRow = baseline.Rows[r]
		}
		if r < len(current.Rows) {
			curRow = current.Rows[r]
		} else {
			continue
		}
		if baseRow == curRow {
			continue // pointer-equal: unchanged, no patch (I8)
		}
		runs := extractRuns(baseRow, curRow, current.Cols)
		if len(runs) == 0 {
			continue
		}
		d.RowPatches = append(d.RowPatches, protocol.RowPatch{Row: uint16(r), Runs: runs})
	}

	count := styleTable.CurrentCount()
	for id := baseStyleCount; id < count; id++ {
		s, ok := styleTable.Get(uint16(id))
		if !ok {
			continue
		}
		d.StylesAdded = append(d.StylesAdded, toWireStyle(uint16(id), s))
	}

	return d
}

// candidateRows returns the sorted set of row indices to examine: the
// provided dirty set (filtered to the current frame's height) if given,
// otherwise the complement of pointer-equality across the overlap range,
// plus any rows added by a resize (baseline shorter than current).
func candidateRows(baseline, current *frame.Frame, dirtyRows []int) []int {
	if dirtyRows != nil {
		out := make([]int, 0, len(dirtyRows))
		for _, r := range dirtyRows {
			if r < len(current.Rows) {
				out = append(out, r)
			}
		}
		return out
	}
	overlap := len(baseline.Rows)
	if len(current.Rows) < overlap {
		overlap = len(current.Rows)
	}
	out := make([]int, 0, overlap)
	for i := 0; i < overlap; i++ {
		if baseline.Rows[i] != current.Rows[i] {
			out = append(out, i)
		}
	}
	for i := len(baseline.Rows); i < len(current.Rows); i++ {
		out = append(out, i)
	}
	return out
}

// extractRuns walks col in [0, cols) and emits contiguous runs of changed
// cells, per spec.md §4.3.
func extractRuns(baseRow, curRow *frame.Row, cols int) []protocol.CellRun {
	var runs []protocol.CellRun
	inRun := false
	var run protocol.CellRun

	flush := func() {
		if inRun {
			runs = append(runs, run)
			inRun = false
		}
	}

	for col := 0; col < cols; col++ {
		curCell, _ := curRow.CellAt(col)
		changed := cellChanged(baseRow, curRow, col)
		if changed {
			if !inRun {
				run = protocol.CellRun{ColStart: uint16(col)}
				inRun = true
			}
			run.Codepoints = append(run.Codepoints, uint32(curCell.Codepoint))
			run.Widths = append(run.Widths, curCell.Width)
			run.StyleIDs = append(run.StyleIDs, curCell.StyleID)
		} else {
			flush()
		}
	}
	flush()
	return runs
}

// cellChanged is field-wise comparison of (codepoint, width, style_id); if
// the baseline row is missing, every cell counts as changed.
func cellChanged(baseRow, curRow *frame.Row, col int) bool {
	curCell, _ := curRow.CellAt(col)
	if baseRow == nil {
		return true
	}
	baseCell, ok := baseRow.CellAt(col)
	if !ok {
		return true
	}
	return baseCell.Codepoint != curCell.Codepoint ||
		baseCell.Width != curCell.Width ||
		baseCell.StyleID != curCell.StyleID
}

// CreateSnapshot mirrors spec.md §4.3 create_snapshot: every row as a
// full-row run, every style id currently in the table, style_table_reset
// always true.
func CreateSnapshot(f *frame.Frame, stateID uint64, styleTable *style.Table, deliveredInputWatermark uint64) protocol.ScreenSnapshot {
	snap := protocol.ScreenSnapshot{
		StateID:                 stateID,
		Cols:                    uint16(f.Cols),
		Rows:                    uint16(len(f.Rows)),
		StyleTableReset:         true,
		Cursor:                  cursorWire(f.Cursor),
		DeliveredInputWatermark: deliveredInputWatermark,
	}
	for id := 0; id < styleTable.CurrentCount(); id++ {
		s, ok := styleTable.Get(uint16(id))
		if !ok {
			continue
		}
		snap.Styles = append(snap.Styles, toWireStyle(uint16(id), s))
	}
	for _, row := range f.Rows {
		rs := protocol.RowSnapshot{
			Codepoints: make([]uint32, len(row.Cells)),
			Widths:     make([]uint8, len(row.Cells)),
			StyleIDs:   make([]uint16, len(row.Cells)),
		}
		for i, c := range row.Cells {
			rs.Codepoints[i] = uint32(c.Codepoint)
			rs.Widths[i] = c.Width
			rs.StyleIDs[i] = c.StyleID
		}
		snap.RowData = append(snap.RowData, rs)
	}
	return snap
}

func cursorWire(c frame.Cursor) protocol.CursorWire {
	return protocol.CursorWire{
		Row:     uint16(c.Row),
		Col:     uint16(c.Col),
		Visible: c.Visible,
		Blink:   c.Blink,
		Shape:   c.Shape,
	}
}

func toWireStyle(id uint16, s style.Style) protocol.StyleEntry {
	return protocol.StyleEntry{
		ID:             id,
		FgModel:        s.Foreground.Model,
		Fg:             s.Foreground.Value,
		BgModel:        s.Background.Model,
		Bg:             s.Background.Value,
		UlModel:        s.UnderlineColor.Model,
		Ul:             s.UnderlineColor.Value,
		Flags:          uint16(s.Flags),
		UnderlineStyle: uint8(s.Underline),
	}
}
