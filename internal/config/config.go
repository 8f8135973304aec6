// Package config holds the server configuration, read once at startup from
// defaults, the environment and command line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/omochice/wsecho/internal/logger"
	"github.com/omochice/wsecho/pkg/protocol"
)

// Environment variables that override the defaults.
const (
	EnvHost           = "WSECHO_HOST"
	EnvPort           = "WSECHO_PORT"
	EnvLogLevel       = "WSECHO_LOG_LEVEL"
	EnvLogPath        = "WSECHO_LOG_PATH"
	EnvMaxFrameSize   = "WSECHO_MAX_FRAME_SIZE"
	EnvMaxMessageSize = "WSECHO_MAX_MESSAGE_SIZE"
	EnvReusePort      = "WSECHO_REUSE_PORT"
)

// Config is immutable once Parse returns.
type Config struct {
	Host           string
	Port           int
	LogLevel       string
	LogPath        string
	MaxFrameSize   int64
	MaxMessageSize int64
	ReusePort      bool
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           8080,
		LogLevel:       "info",
		MaxFrameSize:   protocol.DefaultMaxFrameSize,
		MaxMessageSize: protocol.DefaultMaxMessageSize,
	}
}

// Addr returns the host:port the server binds.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Limits returns the decoder limits.
func (c Config) Limits() protocol.Limits {
	return protocol.Limits{
		MaxFrameSize:   c.MaxFrameSize,
		MaxMessageSize: c.MaxMessageSize,
	}
}

// Level returns the parsed log level.
func (c Config) Level() logger.Level {
	return logger.ParseLevel(c.LogLevel)
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 0 and 65535", c.Port)
	}
	if c.MaxFrameSize < 0 {
		return fmt.Errorf("invalid max frame size %d: must not be negative", c.MaxFrameSize)
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("invalid max message size %d: must not be negative", c.MaxMessageSize)
	}
	if c.MaxMessageSize > 0 && c.MaxFrameSize > c.MaxMessageSize {
		return fmt.Errorf("max frame size %d exceeds max message size %d", c.MaxFrameSize, c.MaxMessageSize)
	}
	return nil
}

// Parse builds a Config from defaults, then getenv, then args. It returns
// flag.ErrHelp when -h or -help is given.
func Parse(name string, args []string, getenv func(string) string, output io.Writer) (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host to listen on")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port to listen on (0 picks a free port)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error or none")
	fs.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, "Append logs to this file instead of stdout")
	fs.Int64Var(&cfg.MaxFrameSize, "max-frame-size", cfg.MaxFrameSize, "Largest accepted frame in bytes (0 for unlimited)")
	fs.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "Largest accepted message in bytes (0 for unlimited)")
	fs.BoolVar(&cfg.ReusePort, "reuse-port", cfg.ReusePort, "Set SO_REUSEPORT on the listening socket")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return Config{}, flag.ErrHelp
		}
		return Config{}, fmt.Errorf("failed to parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	lookup := func(key string) string {
		return strings.TrimSpace(getenv(key))
	}

	if v := lookup(EnvHost); v != "" {
		c.Host = v
	}
	if v := lookup(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvPort, err)
		}
		c.Port = port
	}
	if v := lookup(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := lookup(EnvLogPath); v != "" {
		c.LogPath = v
	}
	if v := lookup(EnvMaxFrameSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvMaxFrameSize, err)
		}
		c.MaxFrameSize = n
	}
	if v := lookup(EnvMaxMessageSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvMaxMessageSize, err)
		}
		c.MaxMessageSize = n
	}
	if v := lookup(EnvReusePort); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvReusePort, err)
		}
		c.ReusePort = b
	}
	return nil
}
