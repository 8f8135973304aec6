// Package client provides a WebSocket client for the echo server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrUnexpectedFrame is returned by ReadText when the next frame is not text.
var ErrUnexpectedFrame = errors.New("unexpected frame")

// Client is a connected WebSocket client. One goroutine may read while
// another writes.
type Client struct {
	conn net.Conn
	br   *bufio.Reader
}

// Dial connects to a ws:// URL and completes the handshake.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return &Client{conn: conn, br: bufio.NewReader(handshakeTail(conn, br))}, nil
}

// SendText sends a text message.
func (c *Client) SendText(text string) error {
	return c.send(ws.OpText, []byte(text))
}

// SendBinary sends a binary message.
func (c *Client) SendBinary(data []byte) error {
	return c.send(ws.OpBinary, data)
}

// Ping sends a ping carrying payload.
func (c *Client) Ping(payload []byte) error {
	return c.send(ws.OpPing, payload)
}

// Pong sends an unsolicited pong carrying payload.
func (c *Client) Pong(payload []byte) error {
	return c.send(ws.OpPong, payload)
}

// SendClose starts the closing handshake with the given status and reason.
func (c *Client) SendClose(code ws.StatusCode, reason string) error {
	return c.send(ws.OpClose, ws.NewCloseFrameBody(code, reason))
}

// SendFrame masks f and writes it as-is, which allows sending frames a
// well-behaved client never would (reserved opcodes, RSV bits).
func (c *Client) SendFrame(f ws.Frame) error {
	if err := ws.WriteFrame(c.conn, ws.MaskFrame(f)); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// WriteRaw writes bytes to the socket with no framing at all.
func (c *Client) WriteRaw(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

// ReadFrame reads the next frame from the server without interpreting it.
func (c *Client) ReadFrame() (ws.Frame, error) {
	f, err := ws.ReadFrame(c.br)
	if err != nil {
		return f, err
	}
	if f.Header.Masked {
		ws.Cipher(f.Payload, f.Header.Mask, 0)
	}
	return f, nil
}

// ReadText reads the next frame and expects it to be a text message.
func (c *Client) ReadText() (string, error) {
	f, err := c.ReadFrame()
	if err != nil {
		return "", err
	}
	if f.Header.OpCode != ws.OpText {
		return "", fmt.Errorf("%w: opcode 0x%x", ErrUnexpectedFrame, byte(f.Header.OpCode))
	}
	return string(f.Payload), nil
}

// SetReadDeadline bounds how long the next reads may block.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the server address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the socket without a closing handshake.
func (c *Client) Close() error {
	return c.conn.Close()
}

// handshakeTail returns a reader that yields the frames the server sent right
// behind the handshake response before reading from conn. br goes back to the
// gobwas pool.
func handshakeTail(conn net.Conn, br *bufio.Reader) io.Reader {
	if br == nil {
		return conn
	}
	pending := make([]byte, br.Buffered())
	_, _ = br.Read(pending)
	ws.PutReader(br)
	return io.MultiReader(bytes.NewReader(pending), conn)
}

func (c *Client) send(op ws.OpCode, p []byte) error {
	if err := wsutil.WriteClientMessage(c.conn, op, p); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
