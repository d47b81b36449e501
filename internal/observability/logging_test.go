package observability

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestRedactingHandler_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")

	logger.Info("issuing token",
		"agent_id", "agent-1",
		"token", "eyJhbGciOiJIUzI1NiJ9.secret-token",
		"api_key", "sk-live-abc123")

	out := buf.String()
	assert.Contains(t, out, "agent-1")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "secret-token")
	assert.NotContains(t, out, "sk-live-abc123")
}

func TestRedactingHandler_RedactsWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "text")

	logger.With("master_secret", "super-secret-material").Info("configured")

	out := buf.String()
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "super-secret-material")
}

func TestRedactingHandler_PassesOrdinaryAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")

	logger.Info("promoted", "pattern_id", "abc", "classification", "internal")

	out := buf.String()
	assert.Contains(t, out, `"pattern_id":"abc"`)
	assert.Contains(t, out, `"classification":"internal"`)
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn, "json")

	logger.Info("too quiet")
	logger.Warn("loud enough")

	out := buf.String()
	assert.NotContains(t, out, "too quiet")
	assert.Contains(t, out, "loud enough")
}
