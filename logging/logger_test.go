package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"":        LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestStructuredLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})
	l.WithComponent("runner").WithInstance("abc", "t1").Info("spawned", "pid", 42)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "spawned", rec["msg"])
	assert.Equal(t, "runner", rec["component"])
	assert.Equal(t, "abc", rec["instance_id"])
	assert.Equal(t, "t1", rec["thread_id"])
	assert.EqualValues(t, 42, rec["pid"])
}

func TestStructuredLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestWithDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: &buf})
	base.With("k", "v").Info("scoped")
	base.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "k=v")
	assert.NotContains(t, lines[1], "k=v")
}

func TestNewLoggerComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "JSON", Output: &buf, Component: "freza"})
	l.Debug("visible")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "freza", rec["component"])
	assert.Equal(t, "DEBUG", rec["level"])
}

func TestAdapters(t *testing.T) {
	var buf bytes.Buffer
	var l Logger = NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, nil)))
	l.Info("hello", "x", 1)
	assert.Contains(t, buf.String(), "x=1")

	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
	assert.Same(t, l, OrNoOp(l))
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, nil))), "catalog")
	l.Info("reloaded")
	assert.Contains(t, buf.String(), "component=catalog")

	assert.IsType(t, NoOpLogger{}, Component(nil, "x"))
	assert.IsType(t, NoOpLogger{}, Component(NoOpLogger{}, "x"))
}
