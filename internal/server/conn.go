package server

import (
	"bufio"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/wsecho/pkg/protocol"
)

// wsConnection is an upgraded connection. The read half goes through the
// frame decoder and the write half straight to the socket, so a read and a
// write may be in flight at the same time without locking.
type wsConnection struct {
	conn net.Conn
	dec  *protocol.Decoder
}

// newWSConnection wraps conn once the handshake has completed.
func newWSConnection(conn net.Conn, limits protocol.Limits) *wsConnection {
	return &wsConnection{
		conn: conn,
		dec:  protocol.NewDecoder(bufio.NewReader(conn), limits),
	}
}

// Next blocks until the next inbound unit has been decoded.
func (wc *wsConnection) Next() protocol.Result {
	return wc.dec.Next()
}

func (wc *wsConnection) WriteText(p []byte) error {
	return wsutil.WriteServerText(wc.conn, p)
}

func (wc *wsConnection) WriteBinary(p []byte) error {
	return wsutil.WriteServerBinary(wc.conn, p)
}

func (wc *wsConnection) WritePong(p []byte) error {
	return wsutil.WriteServerMessage(wc.conn, ws.OpPong, p)
}

// WriteCloseAck sends a close frame with an empty body.
func (wc *wsConnection) WriteCloseAck() error {
	return wsutil.WriteServerMessage(wc.conn, ws.OpClose, nil)
}
