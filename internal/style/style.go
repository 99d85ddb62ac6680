// Package style implements the Style Table (spec.md §4.1): interning of
// cell styles to 16-bit ids with O(1) lookup in both directions, and the
// style-epoch bump that resets the table on near-exhaustion.
package style

import (
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/framegrace/zrp/protocol"
)

// defaultReserveSlots is the default 1000-slot reserve from spec.md §4.1,
// overridable via NewTable for the style_reserve_slots runtime config field.
const defaultReserveSlots = 1000

// Color is one of default | ansi256(n) | rgb(r,g,b).
type Color struct {
	Model protocol.ColorModel
	Value uint32 // ansi256: low byte is n; rgb: 0x00RRGGBB
}

func DefaultColor() Color { return Color{Model: protocol.ColorDefault} }

func RGBColor(r, g, b uint8) Color {
	return Color{Model: protocol.ColorRGB, Value: uint32(r)<<16 | uint32(g)<<8 | uint32(b)}
}

func Ansi256Color(n uint8) Color {
	return Color{Model: protocol.ColorAnsi256, Value: uint32(n)}
}

// RGB decomposes an RGB-model color into channels; used by the distance
// helper below. Returns zero values for non-RGB colors.
func (c Color) RGB() (r, g, b uint8) {
	if c.Model != protocol.ColorRGB {
		return 0, 0, 0
	}
	return uint8(c.Value >> 16), uint8(c.Value >> 8), uint8(c.Value)
}

// colorfulDistance reports perceptual distance between two RGB colors using
// go-colorful's Lab-space DistanceCIE94. It is reached only through
// ColorDistance; the reverse lookup never calls it (style identity is exact
// field equality; this helper is diagnostic, not part of equivalence).
func colorfulDistance(a, b Color) float64 {
	ar, ag, ab := a.RGB()
	br, bg, bb := b.RGB()
	ca := colorful.Color{R: float64(ar) / 255, G: float64(ag) / 255, B: float64(ab) / 255}
	cb := colorful.Color{R: float64(br) / 255, G: float64(bg) / 255, B: float64(bb) / 255}
	return ca.DistanceCIE94(cb)
}

// ColorDistance exposes colorfulDistance for callers that want to detect
// near-duplicate styles introduced by a renderer's own rounding (e.g. to
// warn when style-table growth looks anomalous); it never affects
// get_or_insert's exact-equality semantics.
func ColorDistance(a, b Color) float64 { return colorfulDistance(a, b) }

// UnderlineStyle mirrors spec.md §3.
type UnderlineStyle uint8

const (
	UnderlineNone UnderlineStyle = iota
	UnderlineSingle
	UnderlineDouble
	UnderlineDotted
	UnderlineDashed
	UnderlineCurly
)

// Flags are the boolean style attributes from spec.md §3.
type Flags uint16

const (
	Bold Flags = 1 << iota
	Dim
	Italic
	Reverse
	Hidden
	Strike
	BlinkSlow
	BlinkFast
)

// Style is the core domain representation of spec.md §3 Style.
type Style struct {
	Foreground     Color
	Background     Color
	UnderlineColor Color
	Flags          Flags
	Underline      UnderlineStyle
}

// key is a deterministic serialization used as the reverse-lookup hash key,
// matching spec.md §4.1's "Reverse lookup uses a deterministic
// serialization of the style as hash key."
func (s Style) key() string {
	return fmt.Sprintf("%d:%d|%d:%d|%d:%d|%d|%d",
		s.Foreground.Model, s.Foreground.Value,
		s.Background.Model, s.Background.Value,
		s.UnderlineColor.Model, s.UnderlineColor.Value,
		s.Flags, s.Underline)
}

// Table implements the Style Table: forward vector indexed by id, reverse
// map for interning, and epoch-bump-on-exhaustion.
type Table struct {
	forward []Style
	reverse map[string]uint16
	epoch   uint32
	reserve uint16
}

// NewTable returns a style table with id 0 reserved for the default style,
// which is never reused even across an epoch bump.
func NewTable(reserveSlots uint16) *Table {
	if reserveSlots == 0 {
		reserveSlots = defaultReserveSlots
	}
	t := &Table{reserve: reserveSlots}
	t.reset()
	return t
}

func (t *Table) reset() {
	t.forward = make([]Style, 1, 256)
	t.forward[0] = Style{}
	t.reverse = map[string]uint16{Style{}.key(): 0}
}

// GetOrInsert returns the existing id for an equivalent style, or allocates
// a new one. Equivalence is by all fields (spec.md §4.1).
func (t *Table) GetOrInsert(s Style) uint16 {
	if id, ok := t.reverse[s.key()]; ok {
		return id
	}
	t.resetIfExhausted()
	k := s.key()
	if id, ok := t.reverse[k]; ok {
		return id
	}
	id := uint16(len(t.forward))
	t.forward = append(t.forward, s)
	t.reverse[k] = id
	return id
}

// Get returns the style for an id, or false if unallocated.
func (t *Table) Get(id uint16) (Style, bool) {
	if int(id) >= len(t.forward) {
		return Style{}, false
	}
	return t.forward[id], true
}

// SetAt places s at the given id, growing the forward vector as needed.
// Unlike GetOrInsert (server-side, content-addressed), this is the
// client-side Client Sync State's apply_delta/apply_snapshot operation
// (spec.md §4.9): "insert into local style table at its given id
// (idempotent)" — the id is dictated by the wire message, not interned.
func (t *Table) SetAt(id uint16, s Style) {
	for int(id) >= len(t.forward) {
		t.forward = append(t.forward, Style{})
	}
	t.forward[id] = s
	t.reverse[s.key()] = id
}

// Clear resets the table to its just-constructed state (id 0 reserved),
// used by apply_snapshot when style_table_reset is set.
func (t *Table) Clear() {
	t.reset()
}

// CurrentCount returns the number of interned styles.
func (t *Table) CurrentCount() int { return len(t.forward) }

// Epoch returns the current style_epoch.
func (t *Table) Epoch() uint32 { return t.epoch }

// ResetIfExhausted bumps the epoch and clears the table when the 16-bit id
// space is within the reserve of exhaustion (spec.md §4.1).
func (t *Table) ResetIfExhausted() bool {
	return t.resetIfExhausted()
}

func (t *Table) resetIfExhausted() bool {
	limit := int(math.MaxUint16) - int(t.reserve)
	if len(t.forward) < limit {
		return false
	}
	t.epoch++
	t.reset()
	return true
}
