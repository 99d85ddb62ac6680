// Package session implements the Remote Session aggregate (spec.md §4.8):
// the top-level server-side object exposing add_client/remove_client/
// process_input/get_render_update/apply_state_ack/apply_lease_message/
// apply_request_snapshot/commit_frame_update/notify_client_resize to the
// transport layer. It owns one Frame Store, one Style Table, one State
// History, one Lease Manager, a resume-token Minter, and one render/input
// state pair per attached client.
//
// Per spec.md §5, a RemoteSession has a single owning task: every exported
// method here is called from that one session task in arrival order, so
// the mutex below exists for defensive symmetry with the rest of this
// port's style, not because of real contention (matches
// internal/lease.Manager's own note).
package session

import (
	"crypto/subtle"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/framegrace/zrp/internal/delta"
	"github.com/framegrace/zrp/internal/frame"
	"github.com/framegrace/zrp/internal/input"
	"github.com/framegrace/zrp/internal/lease"
	"github.com/framegrace/zrp/internal/render"
	"github.com/framegrace/zrp/internal/resume"
	"github.com/framegrace/zrp/internal/style"
	"github.com/framegrace/zrp/protocol"
)

var (
	ErrUnauthorized  = errors.New("session: bearer token rejected")
	ErrUnknownClient = errors.New("session: unknown client_id")
	ErrNotController = errors.New("session: client does not hold the controller lease")
)

// Config bundles the runtime-configurable knobs a Session needs (mirrors
// the relevant fields of config.Config, passed in rather than imported to
// keep this package free of config's JSON/file concerns).
type Config struct {
	BearerTokenSecret     string
	LeasePolicy           lease.Policy
	ControllerLeaseMs     uint32
	HistoryCapacity       int
	SnapshotIntervalMs    uint32
	MaxInflightInputs     int
	RenderWindowSize      int
	InputGapTimeout       time.Duration
	MaxClockSkew          time.Duration
	StyleReserveSlots     uint16
	DatagramConservative  uint32
}

// Client is the session's per-attached-client bookkeeping.
type Client struct {
	ID                uint64
	WindowSize        lease.Size
	SupportsDatagrams bool
	MaxDatagramBytes  uint32
	Render            *render.ClientState
	Input             *input.Receiver
	connectedAt       time.Time
}

// Session is the Remote Session aggregate.
type Session struct {
	mu sync.Mutex

	id     [16]byte
	name   string
	config Config

	frames      *frame.Store
	styles      *style.Table
	history     *frame.History
	leases      *lease.Manager
	resumer     *resume.Minter
	nextClient  uint64
	clients     map[uint64]*Client
	createdOnce bool
}

// New constructs a Session over a cols x rows screen.
func New(id [16]byte, name string, cols, rows int, cfg Config, resumer *resume.Minter) *Session {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = 64
	}
	return &Session{
		id:      id,
		name:    name,
		config:  cfg,
		frames:  frame.NewStore(cols, rows),
		styles:  style.NewTable(cfg.StyleReserveSlots),
		history: frame.NewHistory(cfg.HistoryCapacity),
		leases:  lease.NewManager(cfg.LeasePolicy, cfg.ControllerLeaseMs),
		resumer: resumer,
		clients: make(map[uint64]*Client),
	}
}

// AddClient implements spec.md §4.8 add_client.
func (s *Session) AddClient(windowSize lease.Size, supportsDatagrams bool, maxDatagramBytes uint32, bearerToken string, resumeToken []byte, now time.Time) (uint64, protocol.SessionState, *lease.Lease, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.BearerTokenSecret == "" {
		log.Printf("session: no bearer token configured, admitting client without authentication")
	} else if subtle.ConstantTimeCompare([]byte(bearerToken), []byte(s.config.BearerTokenSecret)) != 1 {
		return 0, protocol.SessionStateUnspecified, nil, nil, ErrUnauthorized
	}

	state := protocol.SessionStateRunning
	var clientID uint64
	resumed := false
	if !s.createdOnce {
		state = protocol.SessionStateCreated
		s.createdOnce = true
	} else if len(resumeToken) > 0 {
		if claims, err := s.resumer.Validate(resumeToken, s.id, now, s.config.MaxClockSkew); err == nil {
			state = protocol.SessionStateResurrected
			clientID = claims.ClientID
			resumed = true
		}
	}

	// Per spec.md §4.11's resume path, a validated token reuses its
	// original client_id rather than minting a new one; the per-client
	// render/input state is still rebuilt fresh (ClientState starts
	// needs_snapshot=true), matching "resumes with a fresh ScreenSnapshot".
	if !resumed {
		s.nextClient++
		clientID = s.nextClient
	} else if clientID > s.nextClient {
		s.nextClient = clientID
	}
	s.clients[clientID] = &Client{
		ID:                clientID,
		WindowSize:        windowSize,
		SupportsDatagrams: supportsDatagrams,
		MaxDatagramBytes:  maxDatagramBytes,
		Render:            render.NewClientState(s.config.RenderWindowSize),
		Input:             input.NewReceiver(s.config.MaxInflightInputs, s.config.InputGapTimeout),
		connectedAt:       now,
	}

	var token []byte
	if s.resumer != nil {
		t, err := s.resumer.Mint(s.id, clientID, now)
		if err == nil {
			token = t
		}
	}

	return clientID, state, s.leases.Current(), token, nil
}

// RemoveClient implements spec.md §4.8 remove_client: it drops the
// client's render/input state and, if it held the controller lease,
// releases it via lease.Manager.OnDisconnect (RevokeDisconnect).
func (s *Session) RemoveClient(clientID uint64) *lease.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	return s.leases.OnDisconnect(clientID)
}

// ProcessInput implements spec.md §4.8 process_input / §4.7's lease gate:
// a non-controller's input is consumed (acked) but not returned for
// forwarding to the PTY sink.
func (s *Session) ProcessInput(clientID uint64, evt protocol.InputEvent, now time.Time) ([]protocol.InputEvent, protocol.InputAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, protocol.InputAck{}, ErrUnknownClient
	}

	delivered, ack, accepted, err := c.Input.Deliver(evt, now)
	if err != nil {
		return nil, protocol.InputAck{}, err
	}
	if !accepted {
		// Duplicate: resend the standing ack so cumulative-ack semantics
		// stay intact for a client that missed its own prior ack.
		return nil, protocol.InputAck{AckedSeq: c.Input.ContiguousAcked(), RTTSampleSeq: evt.InputSeq, EchoedClientTimeMs: evt.ClientTimeMs}, nil
	}

	if !s.leases.IsController(clientID) {
		return nil, ack, nil
	}
	return delivered, ack, nil
}

// GetRenderUpdate implements spec.md §4.8 get_render_update.
func (s *Session) GetRenderUpdate(clientID uint64) (*render.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}

	current := s.frames.Snapshot()
	currentStateID := s.frames.CurrentStateID()
	dirty, _ := s.frames.DirtyRows(currentStateID)
	return c.Render.PrepareUpdate(current, currentStateID, s.styles, dirty, c.Input.ContiguousAcked()), nil
}

// ApplyStateAck implements spec.md §4.8 apply_state_ack.
func (s *Session) ApplyStateAck(clientID uint64, ack protocol.StateAck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	c.Render.OnStateAck(ack.LastAppliedStateID)
	return nil
}

// ApplyRequestSnapshot implements spec.md §4.8 apply_request_snapshot.
func (s *Session) ApplyRequestSnapshot(clientID uint64, reason string, knownStateID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	log.Printf("session: client %d requested resnapshot (%s, known_state_id=%d)", clientID, reason, knownStateID)
	c.Render.ForceSnapshot()
	return nil
}

// NotifyClientResize implements spec.md §4.8 notify_client_resize: it
// updates only the client's own window_size bookkeeping, never the
// controller lease's viewport (that only changes via SetControllerSize
// from the controller itself).
func (s *Session) NotifyClientResize(clientID uint64, size lease.Size) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	c.WindowSize = size
	return nil
}

// CommitFrameUpdate implements spec.md §4.8 commit_frame_update: the
// renderer/PTY-reader feeds row mutations through mutate, then the Frame
// Store advances state_id and captures dirty_rows (I1-I3). The prior
// frame is appended to State History for late-joining clients' delta
// base lookups.
func (s *Session) CommitFrameUpdate(mutate func(*frame.Store)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.frames.Snapshot()
	prevStateID := s.frames.CurrentStateID()
	if mutate != nil {
		mutate(s.frames)
	}
	newStateID := s.frames.AdvanceState()
	s.history.Append(prevStateID, prev)
	// Each Append past capacity evicts one state_id; drop its dirty-row set
	// too so the Frame Store's cache stays bounded alongside History.
	if oldest, ok := s.history.OldestStateID(); ok && oldest > 0 {
		s.frames.ForgetDirtyCache(oldest - 1)
	}
	return newStateID
}

// LeaseRequest mirrors the four lease-message shapes dispatched from
// spec.md §4.6/§4.8 apply_lease_message.
type LeaseRequest struct {
	Request    *protocol.RequestControl
	KeepAlive  *protocol.KeepAliveLease
	Release    *protocol.ReleaseControl
	SetSize    *protocol.SetControllerSize
}

// LeaseOutcome is what apply_lease_message hands back to the caller so it
// can reply to the requester and/or broadcast a revoke to the prior
// controller.
type LeaseOutcome struct {
	Reply *lease.Lease
	Kind  lease.Reply
	Event *lease.Event
}

// ApplyLeaseMessage implements spec.md §4.8 apply_lease_message,
// dispatching to the Lease Manager's state machine (spec.md §4.6).
func (s *Session) ApplyLeaseMessage(clientID uint64, msg LeaseRequest, now time.Time) (*LeaseOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return nil, ErrUnknownClient
	}

	switch {
	case msg.Request != nil:
		size := lease.Size{Cols: msg.Request.DesiredCols, Rows: msg.Request.DesiredRows}
		l, reply, ev := s.leases.RequestControl(clientID, size, msg.Request.Force, now)
		if reply == lease.ReplyGrant {
			s.resizeFrameLocked(size)
		}
		return &LeaseOutcome{Reply: l, Kind: reply, Event: ev}, nil
	case msg.KeepAlive != nil:
		reply := s.leases.KeepAlive(clientID, now)
		return &LeaseOutcome{Reply: s.leases.Current(), Kind: reply}, nil
	case msg.Release != nil:
		s.leases.Release(clientID)
		return &LeaseOutcome{Kind: lease.ReplyGrant}, nil
	case msg.SetSize != nil:
		size := lease.Size{Cols: msg.SetSize.Cols, Rows: msg.SetSize.Rows}
		if !s.leases.SetControllerSize(clientID, size) {
			return &LeaseOutcome{Kind: lease.ReplyDeny}, nil
		}
		s.resizeFrameLocked(size)
		return &LeaseOutcome{Reply: s.leases.Current(), Kind: lease.ReplyGrant}, nil
	default:
		return nil, errors.New("session: empty lease message")
	}
}

// resizeFrameLocked implements spec.md §4.2's resize propagation: when the
// controller's viewport changes size, the Frame Store is resized to match
// and every attached client's render baseline is cleared so its next
// get_render_update is forced to a ScreenSnapshot (render.ClientState
// starts over rather than diffing against now-stale row dimensions).
// Called with s.mu already held.
func (s *Session) resizeFrameLocked(size lease.Size) {
	cols, rows := s.frames.Dimensions()
	if cols == int(size.Cols) && rows == int(size.Rows) {
		return
	}
	s.frames.Resize(int(size.Cols), int(size.Rows))
	for _, c := range s.clients {
		c.Render.ClearBaseline()
	}
}

// Tick drives time-based lease expiry (spec.md §4.6 timeout revocation);
// the caller invokes this periodically from the session task's timer arm.
func (s *Session) Tick(now time.Time) *lease.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases.Tick(now)
}

// HistoryLookup returns the frame recorded for stateID, if still within
// the bounded State History ring. AddClient's resume path does not use it:
// a resumed client always starts over with a fresh snapshot.
func (s *Session) HistoryLookup(stateID uint64) (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Get(stateID)
}

// ComputeDeltaFrom builds a ScreenDelta from an arbitrary historical
// baseline (rather than a client's own tracked baseline), such as a frame
// returned by HistoryLookup. Nothing in this package calls it; a
// reattaching client is sent a snapshot instead.
func (s *Session) ComputeDeltaFrom(baseline *frame.Frame, baseStateID uint64, baseStyleCount int, deliveredInputWatermark uint64) protocol.ScreenDelta {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.frames.Snapshot()
	return delta.Compute(baseline, current, s.styles, baseStateID, s.frames.CurrentStateID(), nil, baseStyleCount, deliveredInputWatermark)
}

// InternStyle implements spec.md §4.1 get_or_insert against the session's
// Style Table. When interning pushes the table past its reserve and it
// bumps its epoch, the Frame Store's working frame is updated to carry
// the new epoch too, so the next commit_frame_update's snapshot/delta
// decision (render.ClientState.PrepareUpdate's epochMismatch check) sees
// it and every client falls back to a style_table_reset snapshot.
func (s *Session) InternStyle(st style.Style) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.styles.Epoch()
	id := s.styles.GetOrInsert(st)
	if after := s.styles.Epoch(); after != before {
		s.frames.BumpStyleEpoch(after)
	}
	return id
}

// SessionID returns the opaque session identifier used in resume-token
// claims.
func (s *Session) SessionID() [16]byte { return s.id }

// ClientCount reports the number of currently attached clients.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
