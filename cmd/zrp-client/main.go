// Command zrp-client attaches to a zrp-server session over WebSocket,
// reconciles the synchronized screen state via the Client Sync State, and
// paints it with tcell. It is the terminal sink for client.SyncState:
// not a VT100 emulator of the remote shell's escape codes
// (that lives server-side in the session's PTY host), just a painter of
// the already-reconciled Frame.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-isatty"

	"github.com/framegrace/zrp/client"
	"github.com/framegrace/zrp/internal/input"
	"github.com/framegrace/zrp/internal/style"
	"github.com/framegrace/zrp/internal/transport"
	"github.com/framegrace/zrp/protocol"
)

var screenFactory = tcell.NewScreen

func main() {
	url := flag.String("connect", "ws://127.0.0.1:7070/zrp", "zrp-server websocket URL")
	bearerToken := flag.String("bearer-token", "", "bearer token for the session")
	clientName := flag.String("name", "zrp-client", "client_name advertised in ClientHello")
	flag.Parse()

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		log.Fatalf("zrp-client: stdout is not a terminal, refusing to attach")
	}

	stream, err := transport.NewWSClientStreamConn(*url)
	if err != nil {
		log.Fatalf("zrp-client: dial %s: %v", *url, err)
	}
	defer stream.Close()

	screen, err := screenFactory()
	if err != nil {
		log.Fatalf("zrp-client: init screen: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("zrp-client: screen init: %v", err)
	}
	defer screen.Fini()
	screen.EnableMouse(tcell.MouseMotionEvents)
	defer screen.DisableMouse()

	cols, rows := screen.Size()

	hello := protocol.ClientHello{
		Version: protocol.Version,
		Capabilities: protocol.Capabilities{
			SupportsStyleDictionary: true,
			SupportsStyledUnderline: true,
		},
		ClientName:  *clientName,
		BearerToken: *bearerToken,
		ResumeToken: loadResumeToken(),
	}
	if err := protocol.WriteStreamEnvelope(stream, protocol.MsgClientHello, protocol.EncodeClientHello(hello)); err != nil {
		log.Fatalf("zrp-client: send ClientHello: %v", err)
	}

	msgType, payload, err := protocol.ReadStreamEnvelope(stream, protocol.MaxStreamFrameSize)
	if err != nil {
		log.Fatalf("zrp-client: read ServerHello: %v", err)
	}
	if msgType != protocol.MsgServerHello {
		log.Fatalf("zrp-client: expected ServerHello, got %s", msgType)
	}
	serverHello, err := protocol.DecodeServerHello(payload)
	if err != nil {
		log.Fatalf("zrp-client: decode ServerHello: %v", err)
	}
	if len(serverHello.ResumeToken) > 0 {
		saveResumeToken(serverHello.ResumeToken)
	}
	log.Printf("zrp-client: attached as client %d, session %q, state=%v", serverHello.ClientID, serverHello.SessionName, serverHello.SessionState)

	sync := client.New(cols, rows, 1000)
	rtt := input.NewRTTEstimator(50*time.Millisecond, 2*time.Second)

	app := &terminalApp{
		screen:   screen,
		stream:   stream,
		sync:     sync,
		rtt:      rtt,
		clientID: serverHello.ClientID,
	}
	app.run()
}

func loadResumeToken() []byte {
	data, err := os.ReadFile(resumeTokenPath())
	if err != nil {
		return nil
	}
	return data
}

func saveResumeToken(tok []byte) {
	_ = os.WriteFile(resumeTokenPath(), tok, 0o600)
}

func resumeTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".zrp-resume-token"
	}
	return dir + "/zrp/resume-token"
}

type terminalApp struct {
	screen   tcell.Screen
	stream   transport.StreamConn
	sync     *client.SyncState
	rtt      *input.RTTEstimator
	clientID uint64

	inputSeq uint64
}

func (a *terminalApp) run() {
	events := make(chan tcell.Event, 16)
	go func() {
		for {
			events <- a.screen.PollEvent()
		}
	}()

	inbound := make(chan inboundMsg, 8)
	go a.readLoop(inbound)

	for {
		select {
		case ev := <-events:
			if a.handleTcellEvent(ev) {
				return
			}
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			a.handleInbound(msg)
		}
	}
}

type inboundMsg struct {
	msgType protocol.MessageType
	payload []byte
}

func (a *terminalApp) readLoop(out chan<- inboundMsg) {
	defer close(out)
	for {
		msgType, payload, err := protocol.ReadStreamEnvelope(a.stream, protocol.MaxStreamFrameSize)
		if err != nil {
			log.Printf("zrp-client: connection closed: %v", err)
			return
		}
		out <- inboundMsg{msgType: msgType, payload: payload}
	}
}

func (a *terminalApp) handleInbound(msg inboundMsg) {
	now := uint32(time.Now().UnixMilli())
	srtt := uint32(a.rtt.SRTT().Milliseconds())

	switch msg.msgType {
	case protocol.MsgScreenSnapshot:
		snap, err := protocol.DecodeScreenSnapshot(msg.payload)
		if err != nil {
			log.Printf("zrp-client: decode ScreenSnapshot: %v", err)
			return
		}
		result := a.sync.ApplySnapshot(snap, now, srtt)
		a.sendStateAck(result.Ack)
		a.paint()

	case protocol.MsgScreenDeltaStream:
		delta, err := protocol.DecodeScreenDelta(msg.payload)
		if err != nil {
			log.Printf("zrp-client: decode ScreenDelta: %v", err)
			return
		}
		result := a.sync.ApplyDelta(delta, now, srtt)
		if !result.Stale && !result.BaseMismatch {
			a.sendStateAck(result.Ack)
		}
		if result.RequestResnapshot {
			a.sendRequestSnapshot()
		}
		a.paint()

	case protocol.MsgLeaseRevoked:
		rv, err := protocol.DecodeLeaseRevoked(msg.payload)
		if err == nil {
			log.Printf("zrp-client: control lease revoked: %s", rv.Reason)
		}

	case protocol.MsgGrantControl:
		log.Printf("zrp-client: granted control")

	case protocol.MsgDenyControl:
		log.Printf("zrp-client: control request denied")

	case protocol.MsgInputAck:
		ack, err := protocol.DecodeInputAck(msg.payload)
		if err == nil && ack.RTTSampleSeq != 0 {
			a.rtt.Sample(time.Since(time.UnixMilli(int64(ack.EchoedClientTimeMs))))
		}

	case protocol.MsgPong:
		// round-trip confirmation only; no RTT sample carried here.

	case protocol.MsgProtocolError:
		pe, err := protocol.DecodeProtocolError(msg.payload)
		if err == nil {
			log.Printf("zrp-client: protocol error: %s (fatal=%v)", pe.Message, pe.Fatal)
		}
	}
}

func (a *terminalApp) sendStateAck(ack protocol.StateAck) {
	protocol.WriteStreamEnvelope(a.stream, protocol.MsgStateAck, protocol.EncodeStateAck(ack))
}

func (a *terminalApp) sendRequestSnapshot() {
	protocol.WriteStreamEnvelope(a.stream, protocol.MsgRequestSnapshot, protocol.EncodeRequestSnapshot(protocol.RequestSnapshot{
		Reason:       "base_mismatch",
		KnownStateID: a.sync.LastAppliedStateID(),
	}))
}

func (a *terminalApp) paint() {
	f := a.sync.Frame()
	for row, r := range f.Rows {
		col := 0
		for _, cell := range r.Cells {
			if cell.Width == 0 {
				continue
			}
			st := a.styleOf(cell.StyleID)
			a.screen.SetContent(col, row, cell.Codepoint, nil, st)
			col += int(cell.Width)
		}
	}
	a.screen.ShowCursor(f.Cursor.Col, f.Cursor.Row)
	a.screen.Show()
}

func (a *terminalApp) styleOf(id uint16) tcell.Style {
	st := tcell.StyleDefault
	s, _ := a.sync.Styles().Get(id)
	st = st.Foreground(tcellColor(s.Foreground)).Background(tcellColor(s.Background))
	if s.Flags&style.Bold != 0 {
		st = st.Bold(true)
	}
	if s.Flags&style.Italic != 0 {
		st = st.Italic(true)
	}
	if s.Flags&style.Reverse != 0 {
		st = st.Reverse(true)
	}
	if s.Underline != style.UnderlineNone {
		st = st.Underline(true)
	}
	return st
}

func tcellColor(c style.Color) tcell.Color {
	switch c.Model {
	case protocol.ColorRGB:
		r, g, b := c.RGB()
		return tcell.NewRGBColor(int32(r), int32(g), int32(b))
	case protocol.ColorAnsi256:
		return tcell.PaletteColor(int(c.Value))
	default:
		return tcell.ColorDefault
	}
}

func (a *terminalApp) handleTcellEvent(ev tcell.Event) bool {
	switch tev := ev.(type) {
	case *tcell.EventKey:
		if tev.Key() == tcell.KeyCtrlC && tev.Modifiers()&tcell.ModAlt != 0 {
			return true // Alt+Ctrl+C detaches this demo client
		}
		a.sendKey(tev)
	case *tcell.EventMouse:
		a.sendMouse(tev)
	case *tcell.EventResize:
		cols, rows := tev.Size()
		protocol.WriteStreamEnvelope(a.stream, protocol.MsgSetControllerSize, protocol.EncodeSetControllerSize(protocol.SetControllerSize{Cols: uint16(cols), Rows: uint16(rows)}))
	}
	return false
}

func (a *terminalApp) sendKey(ev *tcell.EventKey) {
	a.inputSeq++
	evt := protocol.InputEvent{
		InputSeq:     a.inputSeq,
		ClientTimeMs: uint32(time.Now().UnixMilli()),
	}
	if ev.Key() == tcell.KeyRune {
		evt.Kind = protocol.PayloadTextUTF8
		evt.Text = string(ev.Rune())
	} else {
		evt.Kind = protocol.PayloadRawBytes
		evt.RawBytes = keyToBytes(ev)
	}
	protocol.WriteStreamEnvelope(a.stream, protocol.MsgInputEvent, protocol.EncodeInputEvent(evt))
}

func (a *terminalApp) sendMouse(ev *tcell.EventMouse) {
	a.inputSeq++
	col, row := ev.Position()
	evt := protocol.InputEvent{
		InputSeq:     a.inputSeq,
		ClientTimeMs: uint32(time.Now().UnixMilli()),
		Kind:         protocol.PayloadMouse,
		MouseCol:     uint16(col),
		MouseRow:     uint16(row),
		MouseButton:  uint8(ev.Buttons()),
	}
	protocol.WriteStreamEnvelope(a.stream, protocol.MsgInputEvent, protocol.EncodeInputEvent(evt))
}

// keyToBytes renders a handful of the most common special keys as their
// classic terminal escape sequences, the way the remote shell expects to
// receive them. It does not attempt to cover every tcell.Key.
func keyToBytes(ev *tcell.EventKey) []byte {
	switch ev.Key() {
	case tcell.KeyEnter:
		return []byte{'\r'}
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		return []byte{0x7f}
	case tcell.KeyTab:
		return []byte{'\t'}
	case tcell.KeyEsc:
		return []byte{0x1b}
	case tcell.KeyUp:
		return []byte{0x1b, '[', 'A'}
	case tcell.KeyDown:
		return []byte{0x1b, '[', 'B'}
	case tcell.KeyRight:
		return []byte{0x1b, '[', 'C'}
	case tcell.KeyLeft:
		return []byte{0x1b, '[', 'D'}
	case tcell.KeyCtrlC:
		return []byte{0x03}
	case tcell.KeyCtrlD:
		return []byte{0x04}
	default:
		return nil
	}
}
