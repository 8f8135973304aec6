package protocol

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/gobwas/ws"
)

var (
	// ErrInvalidOpCode is reported for frames carrying a reserved opcode.
	ErrInvalidOpCode = errors.New("invalid opcode")
	// ErrFrameTooLarge is reported when a single frame exceeds Limits.MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrMessageTooLarge is reported when a reassembled message exceeds Limits.MaxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrClosePayload is reported for a close frame with a one byte body.
	ErrClosePayload = errors.New("invalid close frame payload")
)

// Default limits applied when the caller does not override them.
const (
	DefaultMaxFrameSize   = 16 << 20
	DefaultMaxMessageSize = 64 << 20
)

// Outcome tags the result of decoding one inbound unit.
type Outcome uint8

const (
	// OutcomeMessage means Result.Message holds a decoded message.
	OutcomeMessage Outcome = iota
	// OutcomeTolerable means the unit was malformed but has been consumed;
	// the stream is still in sync and reading may continue.
	OutcomeTolerable
	// OutcomeFatal means the stream can no longer be used.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMessage:
		return "message"
	case OutcomeTolerable:
		return "tolerable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is returned by Decoder.Next.
type Result struct {
	Outcome Outcome
	Message Message
	Err     error
}

// Limits bounds the sizes the decoder accepts. Zero means unlimited.
type Limits struct {
	MaxFrameSize   int64
	MaxMessageSize int64
}

// DefaultLimits returns the limits used by the server unless configured otherwise.
func DefaultLimits() Limits {
	return Limits{
		MaxFrameSize:   DefaultMaxFrameSize,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// Decoder reads client-to-server frames and assembles them into messages.
// It is not safe for concurrent use; one goroutine owns the read side.
type Decoder struct {
	r      io.Reader
	limits Limits
	state  ws.State

	// op and buf hold a fragmented data message until its final frame.
	op  ws.OpCode
	buf []byte
}

// NewDecoder creates a Decoder reading masked client frames from r.
func NewDecoder(r io.Reader, limits Limits) *Decoder {
	return &Decoder{
		r:      r,
		limits: limits,
		state:  ws.StateServerSide,
	}
}

// Next decodes the next inbound unit. Control frames interleaved with the
// fragments of a data message are returned as soon as they arrive.
func (d *Decoder) Next() Result {
	for {
		h, err := ws.ReadHeader(d.r)
		if err != nil {
			return fatal(err)
		}

		if !h.Masked {
			return fatal(ws.ErrProtocolMaskRequired)
		}

		if h.OpCode.IsReserved() {
			if err := d.discard(h); err != nil {
				return fatal(err)
			}
			return Result{
				Outcome: OutcomeTolerable,
				Err:     fmt.Errorf("%w: 0x%x", ErrInvalidOpCode, byte(h.OpCode)),
			}
		}

		if d.limits.MaxFrameSize > 0 && h.Length > d.limits.MaxFrameSize {
			return fatal(fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, h.Length))
		}

		// No extension is ever negotiated, so a complete data frame with
		// reserved bits set is passed through as a raw, unrecognized frame.
		if h.Rsv != 0 && h.Fin && isData(h.OpCode) && !d.state.Fragmented() {
			if err := d.discard(h); err != nil {
				return fatal(err)
			}
			return Result{Message: Message{Kind: KindUnrecognized}}
		}

		if err := ws.CheckHeader(h, d.state); err != nil {
			return fatal(err)
		}

		if isData(h.OpCode) || h.OpCode == ws.OpContinuation {
			if n := d.limits.MaxMessageSize; n > 0 && int64(len(d.buf))+h.Length > n {
				return fatal(fmt.Errorf("%w: more than %d bytes", ErrMessageTooLarge, n))
			}
		}

		payload, err := d.readPayload(h)
		if err != nil {
			return fatal(err)
		}

		if h.OpCode.IsControl() {
			return control(h.OpCode, payload)
		}

		if h.OpCode == ws.OpContinuation {
			d.buf = append(d.buf, payload...)
		} else {
			d.op = h.OpCode
			d.buf = payload
		}

		if !h.Fin {
			d.state = d.state.Set(ws.StateFragmented)
			continue
		}
		d.state = d.state.Clear(ws.StateFragmented)

		data := d.buf
		d.buf = nil
		if d.op == ws.OpText {
			if !utf8.Valid(data) {
				return fatal(ws.ErrProtocolInvalidUTF8)
			}
			return Result{Message: Message{Kind: KindText, Payload: data}}
		}
		return Result{Message: Message{Kind: KindBinary, Payload: data}}
	}
}

func (d *Decoder) readPayload(h ws.Header) ([]byte, error) {
	if h.Length == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, err
	}
	if h.Masked {
		ws.Cipher(payload, h.Mask, 0)
	}
	return payload, nil
}

func (d *Decoder) discard(h ws.Header) error {
	_, err := io.CopyN(io.Discard, d.r, h.Length)
	return err
}

func control(op ws.OpCode, payload []byte) Result {
	switch op {
	case ws.OpPing:
		return Result{Message: Message{Kind: KindPing, Payload: payload}}
	case ws.OpPong:
		return Result{Message: Message{Kind: KindPong, Payload: payload}}
	}

	// OpClose
	switch len(payload) {
	case 0:
		return Result{Message: Message{Kind: KindClose}}
	case 1:
		return fatal(ErrClosePayload)
	}
	code, reason := ws.ParseCloseFrameData(payload)
	if err := ws.CheckCloseFrameData(code, reason); err != nil {
		return fatal(err)
	}
	return Result{Message: Message{
		Kind:  KindClose,
		Close: &CloseReason{Code: code, Reason: reason},
	}}
}

func isData(op ws.OpCode) bool {
	return op == ws.OpText || op == ws.OpBinary
}

func fatal(err error) Result {
	return Result{Outcome: OutcomeFatal, Err: err}
}
