// Package frame implements the authoritative screen state: Cell, Row,
// Frame and the Frame Store (spec.md §3, §4.2). Row sharing is structural:
// a Row is a pointer, two rows are "pointer-equal" via ordinary Go pointer
// comparison, and reference counting is delegated to the Go garbage
// collector rather than hand-rolled — a row stays alive as long as any
// frame (current or in State History) still points at it. This preserves
// invariant I2 (rows are immutable once shared) without manual bookkeeping.
package frame

import (
	"sort"
	"sync"

	"github.com/mattn/go-runewidth"
)

// Cell mirrors spec.md §3 Cell.
type Cell struct {
	Codepoint rune
	Width     uint8 // 0, 1, or 2; 0 marks the continuation half of a wide glyph
	StyleID   uint16
}

// NewCell computes Width via go-runewidth rather than a hand-rolled
// East-Asian-Width table, matching the teacher's desktop sink width
// handling.
func NewCell(r rune, styleID uint16) Cell {
	w := runewidth.RuneWidth(r)
	if w < 0 {
		w = 1
	}
	return Cell{Codepoint: r, Width: uint8(w), StyleID: styleID}
}

// Row is an immutable, reference-counted (via GC) sequence of cells.
// Mutation never happens in place; Store.UpdateRow always allocates a
// fresh Row and replaces the owning frame's pointer to it (copy-on-write).
type Row struct {
	Cells []Cell
}

// CellAt returns the cell at col, or false if r is nil or col is out of
// range — used by the delta engine's cell_changed helper when pointer
// equality doesn't already establish sameness.
func (r *Row) CellAt(col int) (Cell, bool) {
	if r == nil || col < 0 || col >= len(r.Cells) {
		return Cell{}, false
	}
	return r.Cells[col], true
}

func newBlankRow(cols int, styleID uint16) *Row {
	cells := make([]Cell, cols)
	for i := range cells {
		cells[i] = Cell{Codepoint: ' ', Width: 1, StyleID: styleID}
	}
	return &Row{Cells: cells}
}

// Cursor mirrors spec.md §3 Cursor.
type Cursor struct {
	Row, Col int
	Visible  bool
	Blink    bool
	Shape    uint8 // block, beam, underline
}

// Frame mirrors spec.md §3 Frame: a reference-counted (via GC) screen of
// rows sharing a style epoch.
type Frame struct {
	Rows       []*Row
	Cols       int
	Cursor     Cursor
	StyleEpoch uint32
}

func newBlankFrame(cols, rows int, styleEpoch uint32) *Frame {
	f := &Frame{Rows: make([]*Row, rows), Cols: cols, StyleEpoch: styleEpoch}
	for i := range f.Rows {
		f.Rows[i] = newBlankRow(cols, 0)
	}
	return f
}

// clone produces a shallow copy sharing every Row pointer — the view that
// Snapshot hands out. This is the load-bearing aliasing step: it
// must NOT deep-copy rows, or pointer-equality-based delta computation
// degrades to always-changed.
func (f *Frame) clone() *Frame {
	rows := make([]*Row, len(f.Rows))
	copy(rows, f.Rows)
	return &Frame{Rows: rows, Cols: f.Cols, Cursor: f.Cursor, StyleEpoch: f.StyleEpoch}
}

// Store is the Frame Store (spec.md §4.2): the mutable working frame plus
// accumulated dirty rows since the last AdvanceState, and the monotonic
// current_state_id.
type Store struct {
	mu sync.Mutex

	working    *Frame
	dirtyRows  map[int]struct{}
	stateID    uint64
	dirtyCache map[uint64][]int // per-state_id sorted dirty row snapshot, spec.md §4.2
}

// NewStore creates a Frame Store at state_id 0 with a blank cols x rows
// frame.
func NewStore(cols, rows int) *Store {
	return &Store{
		working:    newBlankFrame(cols, rows, 0),
		dirtyRows:  make(map[int]struct{}),
		dirtyCache: make(map[uint64][]int),
	}
}

// CurrentStateID returns the last state_id produced by AdvanceState (0
// before the first advance).
func (s *Store) CurrentStateID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateID
}

// Snapshot returns a shallow copy of the working frame as it is at call
// time, including row updates not yet captured by AdvanceState. Later
// UpdateRow calls do not show through it, since they replace Row pointers
// rather than mutating rows. Callers must not mutate the returned Frame's Rows slice
// contents (they may read it freely; Rows themselves are immutable).
func (s *Store) Snapshot() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working.clone()
}

// UpdateRow acquires row rowIdx (cloning it — always, since this Go port
// relies on GC-managed sharing rather than refcounts, so "acquire unique"
// degenerates to "always clone before mutating"), applies mutator to a copy
// of its cells, and marks rowIdx dirty.
func (s *Store) UpdateRow(rowIdx int, mutator func(cells []Cell)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rowIdx < 0 || rowIdx >= len(s.working.Rows) {
		return
	}
	old := s.working.Rows[rowIdx]
	cells := make([]Cell, len(old.Cells))
	copy(cells, old.Cells)
	mutator(cells)
	s.working.Rows[rowIdx] = &Row{Cells: cells}
	s.dirtyRows[rowIdx] = struct{}{}
}

// SetCursor replaces the cursor; always dirty-effectful per spec.md §4.2
// (cursor changes don't mark a row dirty but are always carried in the next
// render update via Frame.Cursor).
func (s *Store) SetCursor(c Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working.Cursor = c
}

// AdvanceState increments the state_id (the working frame itself is not
// copied; Snapshot does that), and captures+clears dirty_rows for that state_id (sorted,
// so per-client render ticks for the same state_id reuse a stable order).
func (s *Store) AdvanceState() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateID++
	dirty := make([]int, 0, len(s.dirtyRows))
	for idx := range s.dirtyRows {
		dirty = append(dirty, idx)
	}
	sort.Ints(dirty)
	s.dirtyCache[s.stateID] = dirty
	s.dirtyRows = make(map[int]struct{})
	return s.stateID
}

// DirtyRows returns the sorted dirty-row set captured at stateID, or nil
// if unknown (already evicted or never advanced).
func (s *Store) DirtyRows(stateID uint64) ([]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.dirtyCache[stateID]
	return rows, ok
}

// ForgetDirtyCache drops the cached dirty-row set for a state_id once no
// client render tick can reference it any longer (paired with State
// History eviction).
func (s *Store) ForgetDirtyCache(stateID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirtyCache, stateID)
}

// Dimensions reports the working frame's current cols x rows, so callers
// can skip Resize when a reported viewport size hasn't actually changed.
func (s *Store) Dimensions() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working.Cols, len(s.working.Rows)
}

// Resize truncates or extends the working frame with default-filled rows.
// Per spec.md §4.2, this forces all clients to snapshot; the caller
// (RemoteSession) is responsible for clearing each client's baseline after
// calling Resize.
func (s *Store) Resize(newCols, newRows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]*Row, newRows)
	for i := 0; i < newRows; i++ {
		if i < len(s.working.Rows) {
			old := s.working.Rows[i]
			if newCols == s.working.Cols {
				rows[i] = old
				continue
			}
			cells := make([]Cell, newCols)
			copy(cells, old.Cells)
			for c := len(old.Cells); c < newCols; c++ {
				cells[c] = Cell{Codepoint: ' ', Width: 1, StyleID: 0}
			}
			rows[i] = &Row{Cells: cells}
		} else {
			rows[i] = newBlankRow(newCols, 0)
		}
	}
	s.working.Rows = rows
	s.working.Cols = newCols
	s.dirtyRows = make(map[int]struct{})
	for i := range rows {
		s.dirtyRows[i] = struct{}{}
	}
}

// BumpStyleEpoch is invoked by the style table on epoch bump so the next
// frame carries the new epoch (spec.md §4.1/§9 generational identity).
func (s *Store) BumpStyleEpoch(epoch uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working.StyleEpoch = epoch
}
