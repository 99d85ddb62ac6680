// Package client implements the Client Sync State (spec.md §4.9): the
// client-side reconciliation of ScreenDelta/ScreenSnapshot messages into a
// local Frame plus Style Table, and the StateAck/RequestSnapshot feedback
// loop that keeps the server's baseline and the client's in agreement.
package client

import (
	"github.com/framegrace/zrp/internal/frame"
	"github.com/framegrace/zrp/internal/style"
	"github.com/framegrace/zrp/protocol"
)

// DefaultBaseMismatchLimit is spec.md §4.9's "once ≥ 3" resync threshold.
const DefaultBaseMismatchLimit = 3

// ApplyResult tells the caller what to do after apply_delta/apply_snapshot:
// whether to emit a StateAck, and whether base_mismatch_count crossed the
// resync threshold and a RequestSnapshot must be sent on the reliable
// stream (spec.md §4.9).
type ApplyResult struct {
	Stale             bool // delta.state_id <= last_applied_state_id: dropped
	BaseMismatch      bool
	RequestResnapshot bool
	Ack               protocol.StateAck
}

// SyncState is the client-side mirror of the authoritative Frame, rebuilt
// incrementally from deltas (or wholesale from snapshots) and never
// mutated any other way — spec.md §9 "the client never guesses at state
// between updates."
type SyncState struct {
	frame               *frame.Frame
	styles              *style.Table
	styleEpoch          uint32
	lastAppliedStateID  uint64
	lastReceivedStateID uint64
	baseMismatchCount   int
}

// New constructs a SyncState with a blank cols x rows frame, awaiting its
// first ScreenSnapshot (a server always enqueues one immediately per
// spec.md §4.11 step 4).
func New(cols, rows int, styleReserveSlots uint16) *SyncState {
	return &SyncState{
		frame:  blankFrame(cols, rows),
		styles: style.NewTable(styleReserveSlots),
	}
}

func blankFrame(cols, rows int) *frame.Frame {
	rowSlice := make([]*frame.Row, rows)
	for i := range rowSlice {
		cells := make([]frame.Cell, cols)
		for c := range cells {
			cells[c] = frame.Cell{Codepoint: ' ', Width: 1}
		}
		rowSlice[i] = &frame.Row{Cells: cells}
	}
	return &frame.Frame{Rows: rowSlice, Cols: cols}
}

// Frame exposes the current reconciled frame for the terminal renderer to
// paint; callers must not mutate it.
func (s *SyncState) Frame() *frame.Frame { return s.frame }

// LastAppliedStateID is the client's confirmed baseline, echoed in every
// StateAck and used by the server's Render Window to advance.
func (s *SyncState) LastAppliedStateID() uint64 { return s.lastAppliedStateID }

// Styles exposes the reconciled style table for the terminal renderer to
// resolve a cell's StyleID into foreground/background/attributes.
func (s *SyncState) Styles() *style.Table { return s.styles }

// ApplyDelta implements spec.md §4.9 apply_delta.
func (s *SyncState) ApplyDelta(d protocol.ScreenDelta, clientTimeMs uint32, srttMs uint32) ApplyResult {
	if d.StateID <= s.lastAppliedStateID {
		return ApplyResult{Stale: true}
	}
	if d.BaseStateID != s.lastAppliedStateID {
		s.baseMismatchCount++
		resync := s.baseMismatchCount >= DefaultBaseMismatchLimit
		if resync {
			s.baseMismatchCount = 0
		}
		return ApplyResult{BaseMismatch: true, RequestResnapshot: resync}
	}

	for _, se := range d.StylesAdded {
		s.styles.SetAt(se.ID, fromWireStyle(se))
	}
	for _, patch := range d.RowPatches {
		s.applyRowPatch(patch)
	}
	s.frame.Cursor = fromCursorWire(d.Cursor)

	s.lastAppliedStateID = d.StateID
	s.lastReceivedStateID = d.StateID
	s.baseMismatchCount = 0

	return ApplyResult{Ack: s.stateAck(clientTimeMs, srttMs)}
}

// applyRowPatch copy-on-writes the target row and paints each run over its
// columns, exactly mirroring the server's UpdateRow shape but driven by a
// wire RowPatch instead of a mutator closure.
func (s *SyncState) applyRowPatch(patch protocol.RowPatch) {
	if int(patch.Row) >= len(s.frame.Rows) {
		return
	}
	old := s.frame.Rows[patch.Row]
	cells := make([]frame.Cell, len(old.Cells))
	copy(cells, old.Cells)
	for _, run := range patch.Runs {
		for i, cp := range run.Codepoints {
			col := int(run.ColStart) + i
			if col < 0 || col >= len(cells) {
				continue
			}
			cells[col] = frame.Cell{Codepoint: rune(cp), Width: run.Widths[i], StyleID: run.StyleIDs[i]}
		}
	}
	s.frame.Rows[patch.Row] = &frame.Row{Cells: cells}
}

// ApplySnapshot implements spec.md §4.9 apply_snapshot.
func (s *SyncState) ApplySnapshot(snap protocol.ScreenSnapshot, clientTimeMs uint32, srttMs uint32) ApplyResult {
	if snap.StyleTableReset {
		s.styles.Clear()
		s.styleEpoch++
	}
	for _, se := range snap.Styles {
		s.styles.SetAt(se.ID, fromWireStyle(se))
	}

	rows := make([]*frame.Row, len(snap.RowData))
	for i, rs := range snap.RowData {
		cells := make([]frame.Cell, len(rs.Codepoints))
		for c := range cells {
			cells[c] = frame.Cell{Codepoint: rune(rs.Codepoints[c]), Width: rs.Widths[c], StyleID: rs.StyleIDs[c]}
		}
		rows[i] = &frame.Row{Cells: cells}
	}
	s.frame = &frame.Frame{Rows: rows, Cols: int(snap.Cols), Cursor: fromCursorWire(snap.Cursor), StyleEpoch: s.styleEpoch}

	s.lastAppliedStateID = snap.StateID
	s.lastReceivedStateID = snap.StateID
	s.baseMismatchCount = 0

	return ApplyResult{Ack: s.stateAck(clientTimeMs, srttMs)}
}

func (s *SyncState) stateAck(clientTimeMs, srttMs uint32) protocol.StateAck {
	return protocol.StateAck{
		LastAppliedStateID:  s.lastAppliedStateID,
		LastReceivedStateID: s.lastReceivedStateID,
		ClientTimeMs:        clientTimeMs,
		SrttMs:              srttMs,
	}
}

func fromWireStyle(e protocol.StyleEntry) style.Style {
	return style.Style{
		Foreground:     style.Color{Model: e.FgModel, Value: e.Fg},
		Background:     style.Color{Model: e.BgModel, Value: e.Bg},
		UnderlineColor: style.Color{Model: e.UlModel, Value: e.Ul},
		Flags:          style.Flags(e.Flags),
		Underline:      style.UnderlineStyle(e.UnderlineStyle),
	}
}

func fromCursorWire(c protocol.CursorWire) frame.Cursor {
	return frame.Cursor{Row: int(c.Row), Col: int(c.Col), Visible: c.Visible, Blink: c.Blink, Shape: c.Shape}
}
