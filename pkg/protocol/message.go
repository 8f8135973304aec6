// Package protocol defines the messages exchanged over an upgraded WebSocket
// connection and the decoder that produces them from raw frames.
package protocol

import (
	"fmt"

	"github.com/gobwas/ws"
)

// Kind represents the kind of a decoded message
type Kind int

const (
	KindText Kind = iota
	KindBinary
	KindPing
	KindPong
	KindClose
	KindUnrecognized
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindBinary:
		return "BINARY"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindClose:
		return "CLOSE"
	case KindUnrecognized:
		return "UNRECOGNIZED"
	default:
		return "UNKNOWN"
	}
}

// CloseReason is the optional body of a close frame.
type CloseReason struct {
	Code   ws.StatusCode
	Reason string
}

func (r *CloseReason) String() string {
	if r == nil {
		return "no reason"
	}
	if r.Reason == "" {
		return fmt.Sprintf("code %d", r.Code)
	}
	return fmt.Sprintf("code %d (%s)", r.Code, r.Reason)
}

// Message is one application-visible unit decoded from one or more frames.
// Payload holds the text, binary, ping or pong body. Close is set only for
// KindClose messages that carried a status code.
type Message struct {
	Kind    Kind
	Payload []byte
	Close   *CloseReason
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Payload)
}
