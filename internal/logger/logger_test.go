package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{" INFO ", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"off", LevelNone},
		{"invalid", LevelInfo}, // defaults to info
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelNone, "NONE"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelWarn, &buf, "")

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	l.Error("error %d", 42)

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line")
	assert.Contains(t, out, "[ERROR] error 42")
}

func TestLogger_WithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "server").WithPrefix("127.0.0.1:5000")

	l.Info("hello")

	assert.Contains(t, buf.String(), "[INFO] [server:127.0.0.1:5000] hello")
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelError, &buf, "")

	l.Info("hidden")
	l.SetLevel(LevelDebug)
	l.Debug("shown")

	assert.Equal(t, LevelDebug, l.GetLevel())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_NoneDiscardsEverything(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelNone, &buf, "")

	l.Error("nothing")

	assert.Empty(t, buf.String())
}

func TestNew_File(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "wsecho.log")

	l, err := New(LevelInfo, logPath, "test")
	require.NoError(t, err)

	l.Info("test message")
	l.Debug("should not appear")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[INFO] [test] test message")

	// Writes after Close are dropped rather than failing.
	l.Info("after close")
	assert.NoError(t, l.Close())
}

func TestInit_ReplacesGlobal(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "global.log")

	require.NoError(t, Init(LevelDebug, logPath))
	t.Cleanup(func() {
		_ = Global().Close()
		require.NoError(t, Init(LevelInfo, ""))
	})

	Debug("global debug")
	Info("global info")
	Warn("global warn")
	Error("global error")
	require.NoError(t, Global().Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	for _, want := range []string{"global debug", "global info", "global warn", "global error"} {
		assert.Contains(t, string(content), want)
	}
}
