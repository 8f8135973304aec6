package server_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/wsecho/internal/logger"
	"github.com/omochice/wsecho/internal/server"
	"github.com/omochice/wsecho/pkg/protocol"
)

const upgradeRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

type noAddrConn struct{ net.Conn }

func (noAddrConn) RemoteAddr() net.Addr { return nil }

type panicConn struct{ net.Conn }

func (panicConn) Write([]byte) (int, error) { panic("write exploded") }

var errWriteBroken = errors.New("write broken")

// brokenWriteConn fails every Write once writesLeft reaches zero.
type brokenWriteConn struct {
	net.Conn
	writesLeft atomic.Int64
}

func (c *brokenWriteConn) Write(p []byte) (int, error) {
	if c.writesLeft.Add(-1) < 0 {
		return 0, errWriteBroken
	}
	return c.Conn.Write(p)
}

// dialPipe completes the client side of the handshake over peer.
func dialPipe(t *testing.T, peer net.Conn) (net.Conn, io.Reader) {
	t.Helper()
	dialer := ws.Dialer{
		NetDial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return peer, nil
		},
	}
	conn, br, _, err := dialer.Dial(context.Background(), "ws://pipe/")
	require.NoError(t, err)
	if br != nil {
		return conn, br
	}
	return conn, conn
}

// serve runs a Handler on conn and returns a channel closed when Serve returns.
func serve(conn net.Conn, log *logger.Logger) (*server.Handler, <-chan struct{}) {
	h := server.NewHandler(conn, protocol.DefaultLimits(), log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve()
	}()
	return h, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish in time")
	}
}

func TestHandler_MissingAddressAbandonsConnection(t *testing.T) {
	srvSide, peer := net.Pipe()
	defer peer.Close()

	var logs bytes.Buffer
	h, done := serve(noAddrConn{srvSide}, logger.NewWriter(logger.LevelDebug, &logs, ""))
	waitDone(t, done)

	assert.Equal(t, server.StateClosed, h.State())
	assert.Contains(t, logs.String(), "Failed to obtain client address")

	_, err := peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandler_HandshakeFailureClosesConnection(t *testing.T) {
	srvSide, peer := net.Pipe()
	defer peer.Close()

	var logs bytes.Buffer
	h, done := serve(srvSide, logger.NewWriter(logger.LevelDebug, &logs, ""))

	_, err := peer.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)

	resp, err := io.ReadAll(peer)
	require.NoError(t, err)
	waitDone(t, done)

	assert.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 400"), "response: %q", resp)
	assert.Equal(t, server.StateClosed, h.State())
	assert.Contains(t, logs.String(), "WebSocket handshake failed")
}

func TestHandler_RecoversFromPanic(t *testing.T) {
	srvSide, peer := net.Pipe()
	defer peer.Close()

	var logs bytes.Buffer
	h, done := serve(panicConn{srvSide}, logger.NewWriter(logger.LevelDebug, &logs, ""))

	_, err := peer.Write([]byte(upgradeRequest))
	require.NoError(t, err)
	waitDone(t, done)

	assert.Equal(t, server.StateClosed, h.State())
	assert.Contains(t, logs.String(), "Connection handler panicked: write exploded")
}

func TestHandler_CloseHandshakeOverPipe(t *testing.T) {
	srvSide, peer := net.Pipe()
	defer peer.Close()

	h, done := serve(srvSide, logger.NewWriter(logger.LevelNone, io.Discard, ""))

	conn, r := dialPipe(t, peer)

	welcome, err := ws.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, ws.OpText, welcome.Header.OpCode)
	assert.Equal(t, server.WelcomeMessage, string(welcome.Payload))

	closeFrame := ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "done")))
	require.NoError(t, ws.WriteFrame(conn, closeFrame))

	ack, err := ws.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, ws.OpClose, ack.Header.OpCode)
	assert.Empty(t, ack.Payload)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, rest)

	waitDone(t, done)
	assert.Equal(t, server.StateClosed, h.State())
}

func TestHandler_BinaryWriteFailureKeepsReading(t *testing.T) {
	srvSide, peer := net.Pipe()
	defer peer.Close()

	conn := &brokenWriteConn{Conn: srvSide}
	conn.writesLeft.Store(1 << 20)

	var logs bytes.Buffer
	h, done := serve(conn, logger.NewWriter(logger.LevelDebug, &logs, ""))

	cc, r := dialPipe(t, peer)
	welcome, err := ws.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, server.WelcomeMessage, string(welcome.Payload))

	conn.writesLeft.Store(0)

	require.NoError(t, ws.WriteFrame(cc, ws.MaskFrame(ws.NewBinaryFrame([]byte{1}))))
	require.NoError(t, ws.WriteFrame(cc, ws.MaskFrame(ws.NewPingFrame([]byte{2}))))
	require.NoError(t, ws.WriteFrame(cc, ws.MaskFrame(ws.NewTextFrame([]byte("x")))))
	waitDone(t, done)

	assert.Equal(t, server.StateClosed, h.State())

	out := logs.String()
	binaryFailed := strings.Index(out, "Failed to echo binary data")
	pinged := strings.Index(out, "Ping received")
	textFailed := strings.Index(out, "Error while sending")
	require.NotEqual(t, -1, binaryFailed, out)
	require.NotEqual(t, -1, pinged, out)
	require.NotEqual(t, -1, textFailed, out)
	assert.Less(t, binaryFailed, pinged)
	assert.Less(t, pinged, textFailed)
	assert.Contains(t, out, `Received text: "x"`)
	assert.Contains(t, out, "state established -> draining")
	assert.Contains(t, out, "state draining -> closed")

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Equal(t, 1, strings.Count(line, srvSide.RemoteAddr().String()), "line: %q", line)
	}
}

func TestHandler_WelcomeFailureClosesConnection(t *testing.T) {
	srvSide, peer := net.Pipe()
	defer peer.Close()

	// The handshake response goes out in a single write.
	conn := &brokenWriteConn{Conn: srvSide}
	conn.writesLeft.Store(1)

	var logs bytes.Buffer
	h, done := serve(conn, logger.NewWriter(logger.LevelDebug, &logs, ""))

	_, r := dialPipe(t, peer)
	_, err := ws.ReadFrame(r)
	assert.Error(t, err)
	waitDone(t, done)

	assert.Equal(t, server.StateClosed, h.State())
	out := logs.String()
	assert.Contains(t, out, "Failed to send welcome message: write broken")
	assert.Contains(t, out, "state established -> closed")
	assert.NotContains(t, out, "draining")
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state server.State
		want  string
	}{
		{server.StateAccepted, "accepted"},
		{server.StateHandshaking, "handshaking"},
		{server.StateEstablished, "established"},
		{server.StateDraining, "draining"},
		{server.StateClosed, "closed"},
		{server.State(-1), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}
