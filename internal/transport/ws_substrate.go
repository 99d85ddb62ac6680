package transport

import (
	"context"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WSStreamConn adapts a WebSocket connection to the StreamConn interface
// (a reliable bidirectional byte stream), using gobwas/ws as the demo
// reliable-stream substrate in the absence of any QUIC/WebTransport
// library in the example corpus (see DESIGN.md "Transport substrate").
// ZRP's own length-prefixed envelope framing (protocol.WriteStreamEnvelope/
// ReadStreamEnvelope) runs on top of this as a byte stream; each
// io.Writer.Write call sends one WebSocket binary message via wsutil, and
// Read buffers an incoming message and hands it out across as many calls
// as the caller's buffers need, since WebSocket is message-framed, not
// byte-framed.
type WSStreamConn struct {
	conn   net.Conn
	server bool
	reader *wsutil.Reader
	pend   []byte
}

// NewWSServerStreamConn upgrades an incoming HTTP request to a WebSocket
// via ws.UpgradeHTTP (server side).
func NewWSServerStreamConn(w http.ResponseWriter, r *http.Request) (*WSStreamConn, error) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, err
	}
	return &WSStreamConn{conn: conn, server: true, reader: wsutil.NewServerSideReader(conn)}, nil
}

// NewWSClientStreamConn dials a WebSocket server (client side).
func NewWSClientStreamConn(url string) (*WSStreamConn, error) {
	conn, _, _, err := ws.Dial(context.Background(), url)
	if err != nil {
		return nil, err
	}
	return &WSStreamConn{conn: conn, server: false, reader: wsutil.NewClientSideReader(conn)}, nil
}

func (c *WSStreamConn) Write(p []byte) (int, error) {
	state := ws.StateServerSide
	if !c.server {
		state = ws.StateClientSide
	}
	if err := wsutil.WriteMessage(c.conn, state, ws.OpBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *WSStreamConn) Read(p []byte) (int, error) {
	for len(c.pend) == 0 {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return 0, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.reader.Discard(); err != nil {
				return 0, err
			}
			continue
		}
		buf := make([]byte, hdr.Length)
		if _, err := c.reader.Read(buf); err != nil {
			return 0, err
		}
		c.pend = buf
	}
	n := copy(p, c.pend)
	c.pend = c.pend[n:]
	return n, nil
}

func (c *WSStreamConn) Close() error { return c.conn.Close() }
