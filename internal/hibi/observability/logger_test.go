package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/Hibi/common/trace"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "info", "json"))
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestWithTrace(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(NewHandler(&buf, "info", "text")))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := trace.WithTraceID(context.Background(), "t_abc")
	WithTrace(ctx).Info("hello")
	require.Contains(t, buf.String(), "trace_id=t_abc")

	buf.Reset()
	WithTrace(context.Background()).Info("plain")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestRedactSecrets(t *testing.T) {
	out := RedactSecrets("key is sk-123", "sk-123")
	assert.NotContains(t, out, "sk-123")
}

func TestRedactingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(NewHandler(&buf, "info", "text"), "gsk_secret123"))

	logger.With("key", "gsk_secret123").Info("calling with gsk_secret123",
		"err", errors.New("401 for gsk_secret123"),
		slog.Group("req", "auth", "Bearer gsk_secret123"),
		"n", 3)

	out := buf.String()
	assert.NotContains(t, out, "gsk_secret123")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "n=3")
}
