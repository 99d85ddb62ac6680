package protocol

import (
	"encoding/binary"
	"errors"
)

// ColorModel selects how a color field is interpreted.
type ColorModel uint8

const (
	ColorDefault ColorModel = iota
	ColorAnsi256
	ColorRGB
)

// SessionState mirrors spec.md §6 SessionState enum.
type SessionState uint8

const (
	SessionStateUnspecified SessionState = iota
	SessionStateRunning
	SessionStateCreated
	SessionStateResurrected
)

// ControllerPolicy mirrors spec.md §6 ControllerPolicy enum.
type ControllerPolicy uint8

const (
	PolicyUnspecified ControllerPolicy = iota
	PolicyExplicitOnly
	PolicyLastWriterWins
)

// ErrorCode enumerates ProtocolError.code values from spec.md §6.
type ErrorCode uint8

const (
	ErrUnauthorized ErrorCode = iota
	ErrBadVersion
	ErrBadMessage
	ErrFlowControl
	ErrSessionNotFound
	ErrLeaseDenied
	ErrInternal
)

// Capabilities is the negotiated feature set from spec.md §6.
type Capabilities struct {
	SupportsDatagrams       bool
	MaxDatagramBytes        uint32
	SupportsStyleDictionary bool
	SupportsStyledUnderline bool
	SupportsPrediction      bool
	SupportsImages          bool
	SupportsClipboard       bool
	SupportsHyperlinks      bool
}

func encodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (c Capabilities) Encode() []byte {
	buf := make([]byte, 0, 12)
	flags := byte(0)
	if c.SupportsDatagrams {
		flags |= 1 << 0
	}
	if c.SupportsStyleDictionary {
		flags |= 1 << 1
	}
	if c.SupportsStyledUnderline {
		flags |= 1 << 2
	}
	if c.SupportsPrediction {
		flags |= 1 << 3
	}
	if c.SupportsImages {
		flags |= 1 << 4
	}
	if c.SupportsClipboard {
		flags |= 1 << 5
	}
	if c.SupportsHyperlinks {
		flags |= 1 << 6
	}
	buf = append(buf, flags)
	var dg [4]byte
	binary.LittleEndian.PutUint32(dg[:], c.MaxDatagramBytes)
	buf = append(buf, dg[:]...)
	return buf
}

func DecodeCapabilities(data []byte) (Capabilities, []byte, error) {
	if len(data) < 5 {
		return Capabilities{}, nil, ErrTruncatedFrame
	}
	flags := data[0]
	maxDg := binary.LittleEndian.Uint32(data[1:5])
	return Capabilities{
		SupportsDatagrams:       flags&(1<<0) != 0,
		SupportsStyleDictionary: flags&(1<<1) != 0,
		SupportsStyledUnderline: flags&(1<<2) != 0,
		SupportsPrediction:      flags&(1<<3) != 0,
		SupportsImages:          flags&(1<<4) != 0,
		SupportsClipboard:       flags&(1<<5) != 0,
		SupportsHyperlinks:      flags&(1<<6) != 0,
		MaxDatagramBytes:        maxDg,
	}, data[5:], nil
}

// Intersect returns the negotiated capability set: booleans AND'd,
// datagram size the min of both sides.
func (c Capabilities) Intersect(other Capabilities) Capabilities {
	min := c.MaxDatagramBytes
	if other.MaxDatagramBytes < min {
		min = other.MaxDatagramBytes
	}
	return Capabilities{
		SupportsDatagrams:       c.SupportsDatagrams && other.SupportsDatagrams,
		MaxDatagramBytes:        min,
		SupportsStyleDictionary: c.SupportsStyleDictionary && other.SupportsStyleDictionary,
		SupportsStyledUnderline: c.SupportsStyledUnderline && other.SupportsStyledUnderline,
		SupportsPrediction:      c.SupportsPrediction && other.SupportsPrediction,
		SupportsImages:          c.SupportsImages && other.SupportsImages,
		SupportsClipboard:       c.SupportsClipboard && other.SupportsClipboard,
		SupportsHyperlinks:      c.SupportsHyperlinks && other.SupportsHyperlinks,
	}
}

// StyleEntry is the wire shape of a style-table entry (spec.md §3 Style).
type StyleEntry struct {
	ID              uint16
	FgModel         ColorModel
	Fg              uint32
	BgModel         ColorModel
	Bg              uint32
	UlModel         ColorModel
	Ul              uint32
	Flags           uint16 // bold, dim, italic, reverse, hidden, strike, blink_slow, blink_fast
	UnderlineStyle  uint8  // none, single, double, dotted, dashed, curly
}

const (
	StyleBold uint16 = 1 << iota
	StyleDim
	StyleItalic
	StyleReverse
	StyleHidden
	StyleStrike
	StyleBlinkSlow
	StyleBlinkFast
)

const (
	UnderlineNone uint8 = iota
	UnderlineSingle
	UnderlineDouble
	UnderlineDotted
	UnderlineDashed
	UnderlineCurly
)

func (s StyleEntry) Encode() []byte {
	buf := make([]byte, 2+1+4+1+4+1+4+2+1)
	i := 0
	binary.LittleEndian.PutUint16(buf[i:], s.ID)
	i += 2
	buf[i] = byte(s.FgModel)
	i++
	binary.LittleEndian.PutUint32(buf[i:], s.Fg)
	i += 4
	buf[i] = byte(s.BgModel)
	i++
	binary.LittleEndian.PutUint32(buf[i:], s.Bg)
	i += 4
	buf[i] = byte(s.UlModel)
	i++
	binary.LittleEndian.PutUint32(buf[i:], s.Ul)
	i += 4
	binary.LittleEndian.PutUint16(buf[i:], s.Flags)
	i += 2
	buf[i] = s.UnderlineStyle
	return buf
}

func DecodeStyleEntry(data []byte) (StyleEntry, []byte, error) {
	const size = 2 + 1 + 4 + 1 + 4 + 1 + 4 + 2 + 1
	if len(data) < size {
		return StyleEntry{}, nil, ErrTruncatedFrame
	}
	var s StyleEntry
	i := 0
	s.ID = binary.LittleEndian.Uint16(data[i:])
	i += 2
	s.FgModel = ColorModel(data[i])
	i++
	s.Fg = binary.LittleEndian.Uint32(data[i:])
	i += 4
	s.BgModel = ColorModel(data[i])
	i++
	s.Bg = binary.LittleEndian.Uint32(data[i:])
	i += 4
	s.UlModel = ColorModel(data[i])
	i++
	s.Ul = binary.LittleEndian.Uint32(data[i:])
	i += 4
	s.Flags = binary.LittleEndian.Uint16(data[i:])
	i += 2
	s.UnderlineStyle = data[i]
	i++
	return s, data[i:], nil
}

// CursorWire is the wire shape of spec.md §3 Cursor.
type CursorWire struct {
	Row     uint16
	Col     uint16
	Visible bool
	Blink   bool
	Shape   uint8 // block, beam, underline
}

func (c CursorWire) Encode() []byte {
	buf := make([]byte, 2+2+1+1+1)
	binary.LittleEndian.PutUint16(buf[0:], c.Row)
	binary.LittleEndian.PutUint16(buf[2:], c.Col)
	buf[4] = encodeBool(c.Visible)
	buf[5] = encodeBool(c.Blink)
	buf[6] = c.Shape
	return buf
}

func DecodeCursorWire(data []byte) (CursorWire, []byte, error) {
	if len(data) < 7 {
		return CursorWire{}, nil, ErrTruncatedFrame
	}
	return CursorWire{
		Row:     binary.LittleEndian.Uint16(data[0:]),
		Col:     binary.LittleEndian.Uint16(data[2:]),
		Visible: data[4] != 0,
		Blink:   data[5] != 0,
		Shape:   data[6],
	}, data[7:], nil
}

// CellRun is a contiguous column span sharing the same change, per
// spec.md §4.3.
type CellRun struct {
	ColStart   uint16
	Codepoints []uint32
	Widths     []uint8
	StyleIDs   []uint16
}

func (r CellRun) Encode() []byte {
	n := len(r.Codepoints)
	buf := make([]byte, 0, 2+4+n*4+n+n*2)
	var colB [2]byte
	binary.LittleEndian.PutUint16(colB[:], r.ColStart)
	buf = append(buf, colB[:]...)
	var nB [4]byte
	binary.LittleEndian.PutUint32(nB[:], uint32(n))
	buf = append(buf, nB[:]...)
	for _, cp := range r.Codepoints {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], cp)
		buf = append(buf, b[:]...)
	}
	buf = append(buf, r.Widths...)
	for _, id := range r.StyleIDs {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], id)
		buf = append(buf, b[:]...)
	}
	return buf
}

func DecodeCellRun(data []byte) (CellRun, []byte, error) {
	if len(data) < 6 {
		return CellRun{}, nil, ErrTruncatedFrame
	}
	colStart := binary.LittleEndian.Uint16(data[0:])
	n := binary.LittleEndian.Uint32(data[2:])
	data = data[6:]
	need := int(n)*4 + int(n) + int(n)*2
	if len(data) < need {
		return CellRun{}, nil, ErrTruncatedFrame
	}
	cps := make([]uint32, n)
	for i := range cps {
		cps[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	data = data[n*4:]
	widths := make([]uint8, n)
	copy(widths, data[:n])
	data = data[n:]
	ids := make([]uint16, n)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	data = data[n*2:]
	return CellRun{ColStart: colStart, Codepoints: cps, Widths: widths, StyleIDs: ids}, data, nil
}

// RowPatch is the set of runs describing one row's changes (spec.md §6).
type RowPatch struct {
	Row  uint16
	Runs []CellRun
}

func (p RowPatch) Encode() []byte {
	buf := make([]byte, 0, 64)
	var rowB [2]byte
	binary.LittleEndian.PutUint16(rowB[:], p.Row)
	buf = append(buf, rowB[:]...)
	var cntB [4]byte
	binary.LittleEndian.PutUint32(cntB[:], uint32(len(p.Runs)))
	buf = append(buf, cntB[:]...)
	for _, r := range p.Runs {
		buf = append(buf, r.Encode()...)
	}
	return buf
}

func DecodeRowPatch(data []byte) (RowPatch, []byte, error) {
	if len(data) < 6 {
		return RowPatch{}, nil, ErrTruncatedFrame
	}
	row := binary.LittleEndian.Uint16(data[0:])
	count := binary.LittleEndian.Uint32(data[2:])
	data = data[6:]
	if err := boundedCount(count, len(data), 6); err != nil {
		return RowPatch{}, nil, err
	}
	runs := make([]CellRun, count)
	var err error
	for i := range runs {
		runs[i], data, err = DecodeCellRun(data)
		if err != nil {
			return RowPatch{}, nil, err
		}
	}
	return RowPatch{Row: row, Runs: runs}, data, nil
}

// ScreenDelta mirrors spec.md §6 ScreenDelta.
type ScreenDelta struct {
	BaseStateID             uint64
	StateID                 uint64
	StylesAdded             []StyleEntry
	RowPatches              []RowPatch
	Cursor                  CursorWire
	DeliveredInputWatermark uint64
}

func EncodeScreenDelta(d ScreenDelta) []byte {
	buf := make([]byte, 0, 256)
	buf = appendU64(buf, d.BaseStateID)
	buf = appendU64(buf, d.StateID)
	buf = appendU32(buf, uint32(len(d.StylesAdded)))
	for _, s := range d.StylesAdded {
		buf = append(buf, s.Encode()...)
	}
	buf = appendU32(buf, uint32(len(d.RowPatches)))
	for _, p := range d.RowPatches {
		buf = append(buf, p.Encode()...)
	}
	buf = append(buf, d.Cursor.Encode()...)
	buf = appendU64(buf, d.DeliveredInputWatermark)
	return buf
}

func DecodeScreenDelta(data []byte) (ScreenDelta, error) {
	var d ScreenDelta
	var err error
	d.BaseStateID, data, err = readU64(data)
	if err != nil {
		return d, err
	}
	d.StateID, data, err = readU64(data)
	if err != nil {
		return d, err
	}
	var styleCount uint32
	styleCount, data, err = readU32(data)
	if err != nil {
		return d, err
	}
	if err := boundedCount(styleCount, len(data), 20); err != nil {
		return d, err
	}
	d.StylesAdded = make([]StyleEntry, styleCount)
	for i := range d.StylesAdded {
		d.StylesAdded[i], data, err = DecodeStyleEntry(data)
		if err != nil {
			return d, err
		}
	}
	var patchCount uint32
	patchCount, data, err = readU32(data)
	if err != nil {
		return d, err
	}
	if err := boundedCount(patchCount, len(data), 6); err != nil {
		return d, err
	}
	d.RowPatches = make([]RowPatch, patchCount)
	for i := range d.RowPatches {
		d.RowPatches[i], data, err = DecodeRowPatch(data)
		if err != nil {
			return d, err
		}
	}
	d.Cursor, data, err = DecodeCursorWire(data)
	if err != nil {
		return d, err
	}
	d.DeliveredInputWatermark, _, err = readU64(data)
	return d, err
}

// RowSnapshot is a full row of cells for ScreenSnapshot.
type RowSnapshot struct {
	Codepoints []uint32
	Widths     []uint8
	StyleIDs   []uint16
}

func (r RowSnapshot) Encode() []byte {
	return CellRun{ColStart: 0, Codepoints: r.Codepoints, Widths: r.Widths, StyleIDs: r.StyleIDs}.Encode()
}

func DecodeRowSnapshot(data []byte) (RowSnapshot, []byte, error) {
	run, rest, err := DecodeCellRun(data)
	if err != nil {
		return RowSnapshot{}, nil, err
	}
	return RowSnapshot{Codepoints: run.Codepoints, Widths: run.Widths, StyleIDs: run.StyleIDs}, rest, nil
}

// ScreenSnapshot mirrors spec.md §6 ScreenSnapshot.
type ScreenSnapshot struct {
	StateID                 uint64
	Cols, Rows              uint16
	StyleTableReset         bool
	Styles                  []StyleEntry
	RowData                 []RowSnapshot
	Cursor                  CursorWire
	DeliveredInputWatermark uint64
}

func EncodeScreenSnapshot(s ScreenSnapshot) []byte {
	buf := make([]byte, 0, 1024)
	buf = appendU64(buf, s.StateID)
	buf = appendU16(buf, s.Cols)
	buf = appendU16(buf, s.Rows)
	buf = append(buf, encodeBool(s.StyleTableReset))
	buf = appendU32(buf, uint32(len(s.Styles)))
	for _, st := range s.Styles {
		buf = append(buf, st.Encode()...)
	}
	buf = appendU32(buf, uint32(len(s.RowData)))
	for _, r := range s.RowData {
		buf = append(buf, r.Encode()...)
	}
	buf = append(buf, s.Cursor.Encode()...)
	buf = appendU64(buf, s.DeliveredInputWatermark)
	return buf
}

func DecodeScreenSnapshot(data []byte) (ScreenSnapshot, error) {
	var s ScreenSnapshot
	var err error
	s.StateID, data, err = readU64(data)
	if err != nil {
		return s, err
	}
	s.Cols, data, err = readU16(data)
	if err != nil {
		return s, err
	}
	s.Rows, data, err = readU16(data)
	if err != nil {
		return s, err
	}
	if len(data) < 1 {
		return s, ErrTruncatedFrame
	}
	s.StyleTableReset = data[0] != 0
	data = data[1:]
	var styleCount uint32
	styleCount, data, err = readU32(data)
	if err != nil {
		return s, err
	}
	if err := boundedCount(styleCount, len(data), 20); err != nil {
		return s, err
	}
	s.Styles = make([]StyleEntry, styleCount)
	for i := range s.Styles {
		s.Styles[i], data, err = DecodeStyleEntry(data)
		if err != nil {
			return s, err
		}
	}
	var rowCount uint32
	rowCount, data, err = readU32(data)
	if err != nil {
		return s, err
	}
	if err := boundedCount(rowCount, len(data), 6); err != nil {
		return s, err
	}
	s.RowData = make([]RowSnapshot, rowCount)
	for i := range s.RowData {
		s.RowData[i], data, err = DecodeRowSnapshot(data)
		if err != nil {
			return s, err
		}
	}
	s.Cursor, data, err = DecodeCursorWire(data)
	if err != nil {
		return s, err
	}
	s.DeliveredInputWatermark, _, err = readU64(data)
	return s, err
}

// InputPayloadKind discriminates InputEvent.payload.
type InputPayloadKind uint8

const (
	PayloadTextUTF8 InputPayloadKind = iota
	PayloadKey
	PayloadRawBytes
	PayloadMouse
)

// InputEvent mirrors spec.md §3/§6 InputEvent.
type InputEvent struct {
	InputSeq    uint64
	ClientTimeMs uint32
	Kind        InputPayloadKind
	Text        string // PayloadTextUTF8
	KeyMods     uint8  // PayloadKey
	KeyUnicode  uint32 // PayloadKey: unicode rune, or 0 with KeySpecial set
	KeySpecial  uint16 // PayloadKey: special key code when KeyUnicode==0
	RawBytes    []byte // PayloadRawBytes
	MouseKind   uint8  // PayloadMouse
	MouseCol    uint16
	MouseRow    uint16
	MouseButton uint8
	MouseScroll int8
	MouseMods   uint8
}

func EncodeInputEvent(e InputEvent) []byte {
	buf := make([]byte, 0, 32)
	buf = appendU64(buf, e.InputSeq)
	buf = appendU32(buf, e.ClientTimeMs)
	buf = append(buf, byte(e.Kind))
	switch e.Kind {
	case PayloadTextUTF8:
		buf = encodeString(buf, e.Text)
	case PayloadKey:
		buf = append(buf, e.KeyMods)
		buf = appendU32(buf, e.KeyUnicode)
		buf = appendU16(buf, e.KeySpecial)
	case PayloadRawBytes:
		buf = encodeBytes(buf, e.RawBytes)
	case PayloadMouse:
		buf = append(buf, e.MouseKind)
		buf = appendU16(buf, e.MouseCol)
		buf = appendU16(buf, e.MouseRow)
		buf = append(buf, e.MouseButton)
		buf = append(buf, byte(e.MouseScroll))
		buf = append(buf, e.MouseMods)
	}
	return buf
}

func DecodeInputEvent(data []byte) (InputEvent, error) {
	var e InputEvent
	var err error
	e.InputSeq, data, err = readU64(data)
	if err != nil {
		return e, err
	}
	e.ClientTimeMs, data, err = readU32(data)
	if err != nil {
		return e, err
	}
	if len(data) < 1 {
		return e, ErrTruncatedFrame
	}
	e.Kind = InputPayloadKind(data[0])
	data = data[1:]
	switch e.Kind {
	case PayloadTextUTF8:
		e.Text, data, err = decodeString(data)
	case PayloadKey:
		if len(data) < 7 {
			return e, ErrTruncatedFrame
		}
		e.KeyMods = data[0]
		e.KeyUnicode = binary.LittleEndian.Uint32(data[1:])
		e.KeySpecial = binary.LittleEndian.Uint16(data[5:])
		data = data[7:]
	case PayloadRawBytes:
		e.RawBytes, data, err = decodeBytes(data)
	case PayloadMouse:
		if len(data) < 7 {
			return e, ErrTruncatedFrame
		}
		e.MouseKind = data[0]
		e.MouseCol = binary.LittleEndian.Uint16(data[1:])
		e.MouseRow = binary.LittleEndian.Uint16(data[3:])
		e.MouseButton = data[5]
		e.MouseScroll = int8(data[6])
		if len(data) < 8 {
			return e, ErrTruncatedFrame
		}
		e.MouseMods = data[7]
		data = data[8:]
	default:
		return e, errors.New("protocol: unknown input payload kind")
	}
	return e, err
}

// InputAck mirrors spec.md §6 InputAck.
type InputAck struct {
	AckedSeq           uint64
	RTTSampleSeq       uint64
	EchoedClientTimeMs uint32
}

func EncodeInputAck(a InputAck) []byte {
	buf := make([]byte, 0, 20)
	buf = appendU64(buf, a.AckedSeq)
	buf = appendU64(buf, a.RTTSampleSeq)
	buf = appendU32(buf, a.EchoedClientTimeMs)
	return buf
}

func DecodeInputAck(data []byte) (InputAck, error) {
	var a InputAck
	var err error
	a.AckedSeq, data, err = readU64(data)
	if err != nil {
		return a, err
	}
	a.RTTSampleSeq, data, err = readU64(data)
	if err != nil {
		return a, err
	}
	a.EchoedClientTimeMs, _, err = readU32(data)
	return a, err
}

// StateAck mirrors spec.md §6 StateAck.
type StateAck struct {
	LastAppliedStateID  uint64
	LastReceivedStateID uint64
	ClientTimeMs        uint32
	EstimatedLossPpm    uint32
	SrttMs              uint32
}

func EncodeStateAck(a StateAck) []byte {
	buf := make([]byte, 0, 28)
	buf = appendU64(buf, a.LastAppliedStateID)
	buf = appendU64(buf, a.LastReceivedStateID)
	buf = appendU32(buf, a.ClientTimeMs)
	buf = appendU32(buf, a.EstimatedLossPpm)
	buf = appendU32(buf, a.SrttMs)
	return buf
}

func DecodeStateAck(data []byte) (StateAck, error) {
	var a StateAck
	var err error
	a.LastAppliedStateID, data, err = readU64(data)
	if err != nil {
		return a, err
	}
	a.LastReceivedStateID, data, err = readU64(data)
	if err != nil {
		return a, err
	}
	a.ClientTimeMs, data, err = readU32(data)
	if err != nil {
		return a, err
	}
	a.EstimatedLossPpm, data, err = readU32(data)
	if err != nil {
		return a, err
	}
	a.SrttMs, _, err = readU32(data)
	return a, err
}

// ProtocolError mirrors spec.md §6/§7 ProtocolError. It also implements
// the error interface so it can flow through normal Go error handling.
type ProtocolError struct {
	Code    ErrorCode
	Message string
	Fatal   bool
}

func (e *ProtocolError) Error() string {
	return e.Message
}

func EncodeProtocolError(e ProtocolError) []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, byte(e.Code))
	buf = append(buf, encodeBool(e.Fatal))
	buf = encodeString(buf, e.Message)
	return buf
}

func DecodeProtocolError(data []byte) (ProtocolError, error) {
	var e ProtocolError
	if len(data) < 2 {
		return e, ErrTruncatedFrame
	}
	e.Code = ErrorCode(data[0])
	e.Fatal = data[1] != 0
	msg, _, err := decodeString(data[2:])
	e.Message = msg
	return e, err
}

// ClientHello mirrors spec.md §4.11 step 1.
type ClientHello struct {
	Version      ProtocolVersion
	Capabilities Capabilities
	ClientName   string
	BearerToken  string
	ResumeToken  []byte // optional, empty if absent
}

func EncodeClientHello(h ClientHello) []byte {
	buf := make([]byte, 0, 128)
	buf = appendU16(buf, h.Version.Major)
	buf = appendU16(buf, h.Version.Minor)
	buf = append(buf, h.Capabilities.Encode()...)
	buf = encodeString(buf, h.ClientName)
	buf = encodeString(buf, h.BearerToken)
	buf = encodeBytes(buf, h.ResumeToken)
	return buf
}

func DecodeClientHello(data []byte) (ClientHello, error) {
	var h ClientHello
	var err error
	h.Version.Major, data, err = readU16(data)
	if err != nil {
		return h, err
	}
	h.Version.Minor, data, err = readU16(data)
	if err != nil {
		return h, err
	}
	h.Capabilities, data, err = DecodeCapabilities(data)
	if err != nil {
		return h, err
	}
	h.ClientName, data, err = decodeString(data)
	if err != nil {
		return h, err
	}
	h.BearerToken, data, err = decodeString(data)
	if err != nil {
		return h, err
	}
	h.ResumeToken, _, err = decodeBytes(data)
	return h, err
}

// ServerHello mirrors spec.md §4.11 step 3.
type ServerHello struct {
	NegotiatedVersion      ProtocolVersion
	NegotiatedCapabilities Capabilities
	ClientID               uint64
	SessionName            string
	SessionState           SessionState
	Lease                  LeaseWire
	ResumeToken            []byte
	SnapshotIntervalMs     uint32
	MaxInflightInputs      uint32
	RenderWindow           uint32
}

// LeaseWire is the wire shape of spec.md §3 Lease.
type LeaseWire struct {
	LeaseID       uint64
	OwnerClientID uint64
	Policy        ControllerPolicy
	Cols, Rows    uint16
	DurationMs    uint32
	RemainingMs   uint32
}

func (l LeaseWire) Encode() []byte {
	buf := make([]byte, 0, 32)
	buf = appendU64(buf, l.LeaseID)
	buf = appendU64(buf, l.OwnerClientID)
	buf = append(buf, byte(l.Policy))
	buf = appendU16(buf, l.Cols)
	buf = appendU16(buf, l.Rows)
	buf = appendU32(buf, l.DurationMs)
	buf = appendU32(buf, l.RemainingMs)
	return buf
}

func DecodeLeaseWire(data []byte) (LeaseWire, []byte, error) {
	var l LeaseWire
	var err error
	l.LeaseID, data, err = readU64(data)
	if err != nil {
		return l, nil, err
	}
	l.OwnerClientID, data, err = readU64(data)
	if err != nil {
		return l, nil, err
	}
	if len(data) < 1 {
		return l, nil, ErrTruncatedFrame
	}
	l.Policy = ControllerPolicy(data[0])
	data = data[1:]
	l.Cols, data, err = readU16(data)
	if err != nil {
		return l, nil, err
	}
	l.Rows, data, err = readU16(data)
	if err != nil {
		return l, nil, err
	}
	l.DurationMs, data, err = readU32(data)
	if err != nil {
		return l, nil, err
	}
	l.RemainingMs, data, err = readU32(data)
	return l, data, err
}

func EncodeServerHello(h ServerHello) []byte {
	buf := make([]byte, 0, 128)
	buf = appendU16(buf, h.NegotiatedVersion.Major)
	buf = appendU16(buf, h.NegotiatedVersion.Minor)
	buf = append(buf, h.NegotiatedCapabilities.Encode()...)
	buf = appendU64(buf, h.ClientID)
	buf = encodeString(buf, h.SessionName)
	buf = append(buf, byte(h.SessionState))
	buf = append(buf, h.Lease.Encode()...)
	buf = encodeBytes(buf, h.ResumeToken)
	buf = appendU32(buf, h.SnapshotIntervalMs)
	buf = appendU32(buf, h.MaxInflightInputs)
	buf = appendU32(buf, h.RenderWindow)
	return buf
}

func DecodeServerHello(data []byte) (ServerHello, error) {
	var h ServerHello
	var err error
	h.NegotiatedVersion.Major, data, err = readU16(data)
	if err != nil {
		return h, err
	}
	h.NegotiatedVersion.Minor, data, err = readU16(data)
	if err != nil {
		return h, err
	}
	h.NegotiatedCapabilities, data, err = DecodeCapabilities(data)
	if err != nil {
		return h, err
	}
	h.ClientID, data, err = readU64(data)
	if err != nil {
		return h, err
	}
	h.SessionName, data, err = decodeString(data)
	if err != nil {
		return h, err
	}
	if len(data) < 1 {
		return h, ErrTruncatedFrame
	}
	h.SessionState = SessionState(data[0])
	data = data[1:]
	h.Lease, data, err = DecodeLeaseWire(data)
	if err != nil {
		return h, err
	}
	h.ResumeToken, data, err = decodeBytes(data)
	if err != nil {
		return h, err
	}
	h.SnapshotIntervalMs, data, err = readU32(data)
	if err != nil {
		return h, err
	}
	h.MaxInflightInputs, data, err = readU32(data)
	if err != nil {
		return h, err
	}
	h.RenderWindow, _, err = readU32(data)
	return h, err
}

// RequestControl mirrors spec.md §4.6.
type RequestControl struct {
	Force      bool
	DesiredCols, DesiredRows uint16
}

func EncodeRequestControl(r RequestControl) []byte {
	buf := []byte{encodeBool(r.Force)}
	buf = appendU16(buf, r.DesiredCols)
	buf = appendU16(buf, r.DesiredRows)
	return buf
}

func DecodeRequestControl(data []byte) (RequestControl, error) {
	var r RequestControl
	if len(data) < 1 {
		return r, ErrTruncatedFrame
	}
	r.Force = data[0] != 0
	data = data[1:]
	var err error
	r.DesiredCols, data, err = readU16(data)
	if err != nil {
		return r, err
	}
	r.DesiredRows, _, err = readU16(data)
	return r, err
}

// GrantControl, DenyControl, ReleaseControl, LeaseRevoked carry a lease
// or a reason string; codecs follow the same shape as LeaseWire/string.

type GrantControl struct{ Lease LeaseWire }

func EncodeGrantControl(g GrantControl) []byte { return g.Lease.Encode() }
func DecodeGrantControl(data []byte) (GrantControl, error) {
	l, _, err := DecodeLeaseWire(data)
	return GrantControl{Lease: l}, err
}

type DenyControl struct {
	Reason       string
	CurrentLease LeaseWire
}

func EncodeDenyControl(d DenyControl) []byte {
	buf := encodeString(nil, d.Reason)
	buf = append(buf, d.CurrentLease.Encode()...)
	return buf
}

func DecodeDenyControl(data []byte) (DenyControl, error) {
	var d DenyControl
	var err error
	d.Reason, data, err = decodeString(data)
	if err != nil {
		return d, err
	}
	d.CurrentLease, _, err = DecodeLeaseWire(data)
	return d, err
}

type ReleaseControl struct{}

func EncodeReleaseControl(ReleaseControl) []byte { return nil }
func DecodeReleaseControl([]byte) (ReleaseControl, error) { return ReleaseControl{}, nil }

type SetControllerSize struct{ Cols, Rows uint16 }

func EncodeSetControllerSize(s SetControllerSize) []byte {
	buf := appendU16(nil, s.Cols)
	return appendU16(buf, s.Rows)
}

func DecodeSetControllerSize(data []byte) (SetControllerSize, error) {
	var s SetControllerSize
	var err error
	s.Cols, data, err = readU16(data)
	if err != nil {
		return s, err
	}
	s.Rows, _, err = readU16(data)
	return s, err
}

type KeepAliveLease struct{}

func EncodeKeepAliveLease(KeepAliveLease) []byte { return nil }
func DecodeKeepAliveLease([]byte) (KeepAliveLease, error) { return KeepAliveLease{}, nil }

type LeaseRevoked struct{ Reason string }

func EncodeLeaseRevoked(l LeaseRevoked) []byte { return encodeString(nil, l.Reason) }
func DecodeLeaseRevoked(data []byte) (LeaseRevoked, error) {
	reason, _, err := decodeString(data)
	return LeaseRevoked{Reason: reason}, err
}

type RequestSnapshot struct {
	Reason       string
	KnownStateID uint64
}

func EncodeRequestSnapshot(r RequestSnapshot) []byte {
	buf := encodeString(nil, r.Reason)
	return appendU64(buf, r.KnownStateID)
}

func DecodeRequestSnapshot(data []byte) (RequestSnapshot, error) {
	var r RequestSnapshot
	var err error
	r.Reason, data, err = decodeString(data)
	if err != nil {
		return r, err
	}
	r.KnownStateID, _, err = readU64(data)
	return r, err
}

type AttachRequest struct {
	SessionName  string
	WindowCols   uint16
	WindowRows   uint16
}

func EncodeAttachRequest(a AttachRequest) []byte {
	buf := encodeString(nil, a.SessionName)
	buf = appendU16(buf, a.WindowCols)
	return appendU16(buf, a.WindowRows)
}

func DecodeAttachRequest(data []byte) (AttachRequest, error) {
	var a AttachRequest
	var err error
	a.SessionName, data, err = decodeString(data)
	if err != nil {
		return a, err
	}
	a.WindowCols, data, err = readU16(data)
	if err != nil {
		return a, err
	}
	a.WindowRows, _, err = readU16(data)
	return a, err
}

type AttachResponse struct {
	Accepted bool
	Reason   string
}

func EncodeAttachResponse(a AttachResponse) []byte {
	buf := []byte{encodeBool(a.Accepted)}
	return encodeString(buf, a.Reason)
}

func DecodeAttachResponse(data []byte) (AttachResponse, error) {
	var a AttachResponse
	if len(data) < 1 {
		return a, ErrTruncatedFrame
	}
	a.Accepted = data[0] != 0
	var err error
	a.Reason, _, err = decodeString(data[1:])
	return a, err
}

type Ping struct{ Nonce uint64 }

func EncodePing(p Ping) []byte { return appendU64(nil, p.Nonce) }
func DecodePing(data []byte) (Ping, error) {
	n, _, err := readU64(data)
	return Ping{Nonce: n}, err
}

type Pong struct{ Nonce uint64 }

func EncodePong(p Pong) []byte { return appendU64(nil, p.Nonce) }
func DecodePong(data []byte) (Pong, error) {
	n, _, err := readU64(data)
	return Pong{Nonce: n}, err
}

type UnsupportedFeatureNotice struct{ Feature string }

func EncodeUnsupportedFeatureNotice(u UnsupportedFeatureNotice) []byte {
	return encodeString(nil, u.Feature)
}

func DecodeUnsupportedFeatureNotice(data []byte) (UnsupportedFeatureNotice, error) {
	f, _, err := decodeString(data)
	return UnsupportedFeatureNotice{Feature: f}, err
}

// little-endian fixed-width helpers, matching the teacher's
// encodeString/decodeString pattern in protocol/messages.go.

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func readU16(data []byte) (uint16, []byte, error) {
	if len(data) < 2 {
		return 0, nil, ErrTruncatedFrame
	}
	return binary.LittleEndian.Uint16(data), data[2:], nil
}

func readU32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, ErrTruncatedFrame
	}
	return binary.LittleEndian.Uint32(data), data[4:], nil
}

func readU64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, ErrTruncatedFrame
	}
	return binary.LittleEndian.Uint64(data), data[8:], nil
}

// boundedCount validates a wire-supplied element count against the
// remaining buffer before it is used to size a make() call: each element
// encodes to at least minElemSize bytes, so a count that can't possibly
// fit is rejected up front instead of driving a multi-gigabyte allocation
// from a malformed (or truncated) frame.
func boundedCount(count uint32, remaining int, minElemSize int) error {
	if int64(count)*int64(minElemSize) > int64(remaining) {
		return ErrTruncatedFrame
	}
	return nil
}
