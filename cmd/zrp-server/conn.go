package main

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/framegrace/zrp/internal/lease"
	"github.com/framegrace/zrp/internal/session"
	"github.com/framegrace/zrp/internal/transport"
	"github.com/framegrace/zrp/protocol"
)

// serverCapabilities is this build's advertised capability set.
var serverCapabilities = protocol.Capabilities{
	SupportsStyleDictionary: true,
	SupportsStyledUnderline: true,
}

// conn owns one client's handshake and message dispatch loop, driving the
// Remote Session aggregate per spec.md §4.11/§4.8. It is the transport
// layer spec.md §1 describes as the core's caller.
type conn struct {
	stream  transport.StreamConn
	router  *transport.Router
	sess    *session.Session
	feed    *ptyFeed
	srv     *server
	clientID uint64
}

func (c *conn) handshake() error {
	msgType, payload, err := protocol.ReadStreamEnvelope(c.stream, protocol.MaxStreamFrameSize)
	if err != nil {
		return err
	}
	if msgType != protocol.MsgClientHello {
		return &protocol.ProtocolError{Code: protocol.ErrBadMessage, Message: "expected ClientHello", Fatal: true}
	}
	hello, err := protocol.DecodeClientHello(payload)
	if err != nil {
		return err
	}
	if hello.Version.Major != protocol.Version.Major {
		return &protocol.ProtocolError{Code: protocol.ErrBadVersion, Message: "major version mismatch", Fatal: true}
	}

	negotiated := serverCapabilities.Intersect(hello.Capabilities)

	now := time.Now()
	clientID, state, held, resumeTok, err := c.sess.AddClient(
		lease.Size{Cols: uint16(c.srv.cols), Rows: uint16(c.srv.rows)},
		negotiated.SupportsDatagrams, negotiated.MaxDatagramBytes,
		hello.BearerToken, hello.ResumeToken, now,
	)
	if err != nil {
		return &protocol.ProtocolError{Code: protocol.ErrUnauthorized, Message: err.Error(), Fatal: true}
	}
	c.clientID = clientID
	c.router.SetPeerMaxDatagramBytes(int(negotiated.MaxDatagramBytes))

	var leaseWire protocol.LeaseWire
	if held != nil {
		leaseWire = protocol.LeaseWire{LeaseID: held.ID, OwnerClientID: held.OwnerClientID, Policy: held.Policy, Cols: held.CurrentSize.Cols, Rows: held.CurrentSize.Rows, DurationMs: held.DurationMs}
	}

	serverHello := protocol.ServerHello{
		NegotiatedVersion:      protocol.Version,
		NegotiatedCapabilities: negotiated,
		ClientID:               clientID,
		SessionName:            c.srv.sessionName,
		SessionState:           state,
		Lease:                  leaseWire,
		ResumeToken:            resumeTok,
		SnapshotIntervalMs:     c.srv.cfg.SnapshotIntervalMs,
		MaxInflightInputs:      uint32(c.srv.cfg.MaxInflightInputs),
		RenderWindow:           uint32(c.srv.cfg.RenderWindowSize),
	}
	if err := protocol.WriteStreamEnvelope(c.stream, protocol.MsgServerHello, protocol.EncodeServerHello(serverHello)); err != nil {
		return err
	}

	update, err := c.sess.GetRenderUpdate(clientID)
	if err == nil && update != nil {
		if err := c.router.SendRenderUpdate(update); err != nil {
			log.Printf("server: client %d: initial snapshot send failed: %v", clientID, err)
		}
	}
	return nil
}

// serve runs the per-client dispatch loop until the stream closes or a
// fatal protocol error occurs.
func (c *conn) serve() {
	defer c.router.Close()
	defer func() {
		if ev := c.sess.RemoveClient(c.clientID); ev != nil {
			c.srv.broadcastLeaseRevoke(ev)
		}
	}()

	for {
		msgType, payload, err := protocol.ReadStreamEnvelope(c.stream, protocol.MaxStreamFrameSize)
		if err != nil {
			log.Printf("server: client %d: stream closed: %v", c.clientID, err)
			return
		}
		if err := c.dispatch(msgType, payload); err != nil {
			if pe, ok := err.(*protocol.ProtocolError); ok {
				protocol.WriteStreamEnvelope(c.stream, protocol.MsgProtocolError, protocol.EncodeProtocolError(*pe))
				if pe.Fatal {
					return
				}
				continue
			}
			log.Printf("server: client %d: %v", c.clientID, err)
			return
		}
	}
}

func (c *conn) dispatch(msgType protocol.MessageType, payload []byte) error {
	switch msgType {
	case protocol.MsgInputEvent:
		evt, err := protocol.DecodeInputEvent(payload)
		if err != nil {
			return err
		}
		delivered, ack, err := c.sess.ProcessInput(c.clientID, evt, time.Now())
		if err != nil {
			return &protocol.ProtocolError{Code: protocol.ErrFlowControl, Message: err.Error(), Fatal: true}
		}
		if c.feed != nil {
			for _, e := range delivered {
				if e.Kind == protocol.PayloadTextUTF8 {
					c.feed.WriteInput([]byte(e.Text))
				} else if e.Kind == protocol.PayloadRawBytes {
					c.feed.WriteInput(e.RawBytes)
				}
			}
		}
		return protocol.WriteStreamEnvelope(c.stream, protocol.MsgInputAck, protocol.EncodeInputAck(ack))

	case protocol.MsgStateAck:
		ack, err := protocol.DecodeStateAck(payload)
		if err != nil {
			return err
		}
		return c.sess.ApplyStateAck(c.clientID, ack)

	case protocol.MsgRequestControl:
		r, err := protocol.DecodeRequestControl(payload)
		if err != nil {
			return err
		}
		return c.handleLeaseOutcome(c.sess.ApplyLeaseMessage(c.clientID, session.LeaseRequest{Request: &r}, time.Now()))

	case protocol.MsgKeepAliveLease:
		return c.handleLeaseOutcome(c.sess.ApplyLeaseMessage(c.clientID, session.LeaseRequest{KeepAlive: &protocol.KeepAliveLease{}}, time.Now()))

	case protocol.MsgReleaseControl:
		return c.handleLeaseOutcome(c.sess.ApplyLeaseMessage(c.clientID, session.LeaseRequest{Release: &protocol.ReleaseControl{}}, time.Now()))

	case protocol.MsgSetControllerSize:
		s, err := protocol.DecodeSetControllerSize(payload)
		if err != nil {
			return err
		}
		if c.feed != nil {
			c.feed.Resize(int(s.Cols), int(s.Rows))
		}
		return c.handleLeaseOutcome(c.sess.ApplyLeaseMessage(c.clientID, session.LeaseRequest{SetSize: &s}, time.Now()))

	case protocol.MsgRequestSnapshot:
		r, err := protocol.DecodeRequestSnapshot(payload)
		if err != nil {
			return err
		}
		return c.sess.ApplyRequestSnapshot(c.clientID, r.Reason, r.KnownStateID)

	case protocol.MsgPing:
		return protocol.WriteStreamEnvelope(c.stream, protocol.MsgPong, nil)

	default:
		return &protocol.ProtocolError{Code: protocol.ErrBadMessage, Message: "unexpected message type: " + msgType.String(), Fatal: false}
	}
}

func (c *conn) handleLeaseOutcome(outcome *session.LeaseOutcome, err error) error {
	if err != nil {
		return err
	}
	switch outcome.Kind {
	case lease.ReplyGrant:
		if outcome.Reply != nil {
			return protocol.WriteStreamEnvelope(c.stream, protocol.MsgGrantControl, protocol.EncodeGrantControl(protocol.GrantControl{Lease: leaseWireOf(outcome.Reply)}))
		}
		return nil
	case lease.ReplyDeny:
		var current protocol.LeaseWire
		if outcome.Reply != nil {
			current = leaseWireOf(outcome.Reply)
		}
		return protocol.WriteStreamEnvelope(c.stream, protocol.MsgDenyControl, protocol.EncodeDenyControl(protocol.DenyControl{Reason: "denied", CurrentLease: current}))
	default:
		return nil
	}
}

func leaseWireOf(l *lease.Lease) protocol.LeaseWire {
	return protocol.LeaseWire{LeaseID: l.ID, OwnerClientID: l.OwnerClientID, Policy: l.Policy, Cols: l.CurrentSize.Cols, Rows: l.CurrentSize.Rows, DurationMs: l.DurationMs}
}

func newSessionID() [16]byte {
	var id [16]byte
	copy(id[:], uuid.New()[:])
	return id
}
