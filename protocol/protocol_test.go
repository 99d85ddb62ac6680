package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestStreamEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello-envelope")
	if err := WriteStreamEnvelope(&buf, MsgPing, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	mt, body, err := ReadStreamEnvelope(&buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != MsgPing {
		t.Fatalf("type = %v, want Ping", mt)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("body = %q, want %q", body, payload)
	}
}

func TestStreamEnvelopeTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteStreamEnvelope(&buf, MsgPing, make([]byte, 100)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := ReadStreamEnvelope(&buf, 10)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	raw := EncodeDatagram(MsgStateAck, []byte{1, 2, 3})
	mt, payload, err := DecodeDatagram(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mt != MsgStateAck {
		t.Fatalf("type = %v, want StateAck", mt)
	}
	if !bytes.Equal(payload, []byte{1, 2, 3}) {
		t.Fatalf("payload = %v", payload)
	}
}

func TestScreenDeltaRoundTrip(t *testing.T) {
	d := ScreenDelta{
		BaseStateID: 3,
		StateID:     4,
		StylesAdded: []StyleEntry{{ID: 1, FgModel: ColorRGB, Fg: 0xff0000}},
		RowPatches: []RowPatch{
			{Row: 7, Runs: []CellRun{{ColStart: 2, Codepoints: []uint32{'X'}, Widths: []uint8{1}, StyleIDs: []uint16{1}}}},
		},
		Cursor:                  CursorWire{Row: 3, Col: 7, Visible: true, Shape: 0},
		DeliveredInputWatermark: 42,
	}
	encoded := EncodeScreenDelta(d)
	got, err := DecodeScreenDelta(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.StateID != d.StateID || got.BaseStateID != d.BaseStateID {
		t.Fatalf("state ids mismatch: %+v", got)
	}
	if len(got.RowPatches) != 1 || got.RowPatches[0].Row != 7 {
		t.Fatalf("row patches mismatch: %+v", got.RowPatches)
	}
	if got.RowPatches[0].Runs[0].Codepoints[0] != 'X' {
		t.Fatalf("run mismatch: %+v", got.RowPatches[0].Runs[0])
	}
	if got.DeliveredInputWatermark != 42 {
		t.Fatalf("watermark = %d", got.DeliveredInputWatermark)
	}
}

func TestClientHelloRoundTrip(t *testing.T) {
	h := ClientHello{
		Version:      Version,
		Capabilities: Capabilities{SupportsDatagrams: true, MaxDatagramBytes: 1200},
		ClientName:   "laptop",
		BearerToken:  "secret-token",
		ResumeToken:  []byte{9, 9, 9},
	}
	got, err := DecodeClientHello(EncodeClientHello(h))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ClientName != h.ClientName || got.BearerToken != h.BearerToken {
		t.Fatalf("got = %+v", got)
	}
	if !got.Capabilities.SupportsDatagrams || got.Capabilities.MaxDatagramBytes != 1200 {
		t.Fatalf("capabilities mismatch: %+v", got.Capabilities)
	}
	if !bytes.Equal(got.ResumeToken, h.ResumeToken) {
		t.Fatalf("resume token mismatch: %v", got.ResumeToken)
	}
}

func TestInputEventPayloadKinds(t *testing.T) {
	cases := []InputEvent{
		{InputSeq: 1, ClientTimeMs: 10, Kind: PayloadTextUTF8, Text: "hi"},
		{InputSeq: 2, ClientTimeMs: 20, Kind: PayloadKey, KeyMods: 1, KeyUnicode: 'a'},
		{InputSeq: 3, ClientTimeMs: 30, Kind: PayloadRawBytes, RawBytes: []byte{1, 2}},
		{InputSeq: 4, ClientTimeMs: 40, Kind: PayloadMouse, MouseCol: 5, MouseRow: 6, MouseButton: 1},
	}
	for _, c := range cases {
		got, err := DecodeInputEvent(EncodeInputEvent(c))
		if err != nil {
			t.Fatalf("decode kind %v: %v", c.Kind, err)
		}
		if got.InputSeq != c.InputSeq || got.Kind != c.Kind {
			t.Fatalf("got = %+v, want %+v", got, c)
		}
	}
}

func TestProtocolErrorIsGoError(t *testing.T) {
	var err error = &ProtocolError{Code: ErrBadVersion, Message: "nope", Fatal: true}
	if err.Error() != "nope" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestCapabilitiesIntersect(t *testing.T) {
	a := Capabilities{SupportsDatagrams: true, MaxDatagramBytes: 1200, SupportsImages: true}
	b := Capabilities{SupportsDatagrams: true, MaxDatagramBytes: 900}
	got := a.Intersect(b)
	if got.MaxDatagramBytes != 900 {
		t.Fatalf("datagram cap = %d, want 900", got.MaxDatagramBytes)
	}
	if got.SupportsImages {
		t.Fatalf("SupportsImages should be false (b doesn't support it)")
	}
}
