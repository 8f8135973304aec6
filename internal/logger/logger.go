// Package logger provides the leveled, process-wide logger used by the
// server and its command line tools.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// LevelDebug is the most verbose logging level
	LevelDebug Level = iota
	// LevelInfo logs informational messages
	LevelInfo
	// LevelWarn logs warnings
	LevelWarn
	// LevelError logs errors
	LevelError
	// LevelNone disables all logging
	LevelNone
)

// String returns string representation of log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger writes timestamped, leveled lines to stdout or a file.
type Logger struct {
	mu     sync.RWMutex
	level  Level
	logger *log.Logger
	prefix string
	file   *os.File
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// Init initializes the global logger. Calling it again replaces the previous
// logger without closing it.
func Init(level Level, logPath string) error {
	l, err := New(level, logPath, "")
	if err != nil {
		return err
	}
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
	return nil
}

// New creates a Logger. An empty logPath writes to stdout.
func New(level Level, logPath string, prefix string) (*Logger, error) {
	l := &Logger{
		level:  level,
		prefix: prefix,
	}

	if level == LevelNone {
		l.logger = log.New(io.Discard, "", 0)
		return l, nil
	}

	if logPath == "" {
		l.logger = log.New(os.Stdout, "", 0)
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = file
	l.logger = log.New(file, "", 0)

	return l, nil
}

// NewWriter creates a Logger writing to w. Mostly useful in tests.
func NewWriter(level Level, w io.Writer, prefix string) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(w, "", 0),
		prefix: prefix,
	}
}

// Global returns the global logger, falling back to an INFO logger on
// stdout when Init has not been called.
func Global() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewWriter(LevelInfo, os.Stdout, "")
	}
	return globalLogger
}

// WithPrefix creates a new logger with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + ":" + prefix
	}

	return &Logger{
		level:  l.level,
		logger: l.logger,
		prefix: newPrefix,
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level || l.level == LevelNone {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	prefix := l.prefix
	if prefix != "" {
		prefix = "[" + prefix + "] "
	}

	l.logger.Printf("%s [%s] %s%s", timestamp, level.String(), prefix, msg)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Close closes the underlying file, if any. Loggers derived with WithPrefix
// share the file but never close it.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.logger.SetOutput(io.Discard)
	return err
}

// Debug logs a debug message using the global logger
func Debug(format string, args ...any) {
	Global().Debug(format, args...)
}

// Info logs an informational message using the global logger
func Info(format string, args ...any) {
	Global().Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(format string, args ...any) {
	Global().Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(format string, args ...any) {
	Global().Error(format, args...)
}
