// Package server accepts TCP connections, upgrades them to WebSocket and
// echoes every message back to the peer that sent it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/omochice/wsecho/internal/logger"
	"github.com/omochice/wsecho/pkg/protocol"
)

const maxAcceptDelay = time.Second

// Server owns the listening socket and runs one Handler goroutine per
// accepted connection.
type Server struct {
	address   string
	limits    protocol.Limits
	reusePort bool
	log       *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger handlers derive their per-connection loggers from.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithLimits sets the frame and message size limits.
func WithLimits(l protocol.Limits) Option {
	return func(s *Server) { s.limits = l }
}

// WithReusePort sets SO_REUSEPORT on the listening socket where supported.
func WithReusePort(on bool) Option {
	return func(s *Server) { s.reusePort = on }
}

// New creates a new Server instance
func New(address string, opts ...Option) *Server {
	s := &Server{
		address: address,
		limits:  protocol.DefaultLimits(),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global()
	}
	return s
}

// Start binds the listener and accepts connections until Stop is called or
// the listener fails. It returns nil after Stop.
func (s *Server) Start() error {
	lc := listenConfig(s.reusePort)
	listener, err := lc.Listen(context.Background(), "tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("WebSocket echo server listening on ws://%s", listener.Addr().String())
	s.log.Info("Waiting for connections...")

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if !isTransientAcceptError(err) {
				return fmt.Errorf("failed to accept connection: %w", err)
			}
			delay = nextAcceptDelay(delay)
			s.log.Warn("Failed to accept connection: %v; retrying in %v", err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		go NewHandler(conn, s.limits, s.log).Serve()
	}
}

// Stop closes the listener. Connections already handed to a Handler are not
// touched and finish on their own.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				s.log.Warn("Failed to close listener: %v", err)
			}
		}
	})
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func isTransientAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptDelay {
		d = maxAcceptDelay
	}
	return d
}
