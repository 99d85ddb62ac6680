package transport

import (
	"errors"
	"net"

	"github.com/framegrace/zrp/protocol"
)

// UDPDatagramConn adapts a connected *net.UDPConn to the DatagramConn
// interface: the demo best-effort datagram substrate for render deltas and
// other loss-tolerant messages (StateAck, Ping/Pong) when the client
// negotiates datagram support during the handshake (spec.md §4.11).
//
// A real QUIC/WebTransport datagram channel would replace this directly;
// UDP is the closest best-effort substrate available without pulling in a
// library absent from the example corpus (see DESIGN.md "Transport
// substrate").
type UDPDatagramConn struct {
	conn *net.UDPConn
}

// NewUDPDatagramConn wraps an already-connected UDP socket (connect-mode,
// so Write targets the single peer without per-call addressing).
func NewUDPDatagramConn(conn *net.UDPConn) *UDPDatagramConn {
	return &UDPDatagramConn{conn: conn}
}

// DialUDPDatagramConn dials a UDP peer for the client side.
func DialUDPDatagramConn(raddr string) (*UDPDatagramConn, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &UDPDatagramConn{conn: conn}, nil
}

// SendDatagram writes one unreliable datagram. Per spec.md §4.10 this must
// never block the render loop; UDP writes to a connected socket are
// effectively non-blocking for datagram-sized payloads.
func (c *UDPDatagramConn) SendDatagram(payload []byte) error {
	if len(payload) > protocol.MaxDatagramSize {
		return errors.New("transport: datagram exceeds MaxDatagramSize")
	}
	_, err := c.conn.Write(payload)
	return err
}

// ReceiveDatagram reads one inbound datagram (state acks, pings/pongs).
// Not part of the DatagramConn interface (which is send-only from the
// router's point of view) — callers needing inbound datagrams on the
// other end of this same socket use this directly.
func (c *UDPDatagramConn) ReceiveDatagram(buf []byte) (int, error) {
	return c.conn.Read(buf)
}

func (c *UDPDatagramConn) Close() error { return c.conn.Close() }
