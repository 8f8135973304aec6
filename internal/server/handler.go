package server

import (
	"errors"
	"io"
	"net"
	"runtime/debug"

	"github.com/gobwas/ws"

	"github.com/omochice/wsecho/internal/logger"
	"github.com/omochice/wsecho/pkg/protocol"
)

// WelcomeMessage is the first message every peer receives after the handshake.
const WelcomeMessage = "Welcome to the Echo Server!"

// State is the lifecycle stage of a Handler.
type State int

const (
	StateAccepted State = iota
	StateHandshaking
	StateEstablished
	StateDraining
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler owns one accepted connection from the handshake until the
// transport is released. It shares no state with other handlers.
type Handler struct {
	conn     net.Conn
	upgrader ws.Upgrader
	limits   protocol.Limits
	log      *logger.Logger

	state State
	addr  string
}

// NewHandler creates a Handler for conn. Serve must be called exactly once.
func NewHandler(conn net.Conn, limits protocol.Limits, log *logger.Logger) *Handler {
	return &Handler{
		conn:   conn,
		limits: limits,
		log:    log,
		state:  StateAccepted,
	}
}

// State returns the handler's current state. It is only meaningful once
// Serve has returned, when it is always StateClosed.
func (h *Handler) State() State {
	return h.state
}

// Serve runs the connection to completion. A panic is recovered and logged,
// and the transport is released either way.
func (h *Handler) Serve() {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Connection handler panicked: %v\n%s", r, debug.Stack())
		}
		h.release()
	}()

	addr := h.conn.RemoteAddr()
	if addr == nil {
		h.log.Error("Failed to obtain client address")
		return
	}
	h.addr = addr.String()
	h.log = h.log.WithPrefix(h.addr)
	h.log.Info("New connection")

	h.setState(StateHandshaking)
	if _, err := h.upgrader.Upgrade(h.conn); err != nil {
		h.log.Error("WebSocket handshake failed: %v", err)
		return
	}
	h.setState(StateEstablished)
	h.log.Info("WebSocket connection established")

	wc := newWSConnection(h.conn, h.limits)
	if err := wc.WriteText([]byte(WelcomeMessage)); err != nil {
		h.log.Error("Failed to send welcome message: %v", err)
		return
	}
	h.log.Debug("Welcome message sent")

	h.receive(wc)
	h.setState(StateDraining)
}

func (h *Handler) receive(wc *wsConnection) {
	for {
		res := wc.Next()
		switch res.Outcome {
		case protocol.OutcomeTolerable:
			h.log.Warn("Malformed frame ignored: %v", res.Err)
			continue
		case protocol.OutcomeFatal:
			if isDisconnect(res.Err) {
				h.log.Info("Peer went away without a close frame")
			} else {
				h.log.Warn("WebSocket error: %v", res.Err)
			}
			return
		}

		if !h.dispatch(wc, res.Message) {
			return
		}
	}
}

// dispatch reacts to one decoded message and reports whether the receive
// loop should keep going.
func (h *Handler) dispatch(wc *wsConnection, msg protocol.Message) bool {
	switch msg.Kind {
	case protocol.KindText:
		h.log.Debug("Received text: %q", msg.Text())
		if err := wc.WriteText(msg.Payload); err != nil {
			h.log.Error("Error while sending: %v", err)
			return false
		}
		h.log.Debug("Message echoed back")

	case protocol.KindBinary:
		h.log.Debug("Binary data received (%d bytes)", len(msg.Payload))
		if err := wc.WriteBinary(msg.Payload); err != nil {
			h.log.Warn("Failed to echo binary data: %v", err)
		}

	case protocol.KindPing:
		h.log.Debug("Ping received")
		_ = wc.WritePong(msg.Payload)

	case protocol.KindPong:
		h.log.Debug("Pong received")

	case protocol.KindClose:
		h.log.Info("Close requested (%s)", msg.Close)
		_ = wc.WriteCloseAck()
		return false

	case protocol.KindUnrecognized:
		h.log.Warn("Raw frame received, ignored")
	}
	return true
}

func (h *Handler) setState(s State) {
	h.log.Debug("state %s -> %s", h.state, s)
	h.state = s
}

func (h *Handler) release() {
	if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		h.log.Debug("Failed to close transport: %v", err)
	}
	h.setState(StateClosed)
	if h.addr != "" {
		h.log.Info("Connection closed")
	}
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
