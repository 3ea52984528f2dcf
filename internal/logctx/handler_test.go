package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	return out
}

func TestHandler_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer

	logger := newTestLogger(&buf)

	ctx := WithAttrs(context.Background(), slog.String("request_id", "req-1"))
	ctx = WithAttrs(ctx, slog.String("url", "https://example.com/v"), slog.String("request_id", "req-2"))

	logger.InfoContext(ctx, "download started")

	rec := lastRecord(t, &buf)
	assert.Equal(t, "req-2", rec["request_id"])
	assert.Equal(t, "https://example.com/v", rec["url"])
	assert.NotContains(t, rec, "trace_id")
}

func TestHandler_TraceIDs(t *testing.T) {
	var buf bytes.Buffer

	logger := newTestLogger(&buf)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background()) //nolint:errcheck

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.InfoContext(ctx, "inside span")

	rec := lastRecord(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])
}

func TestHandler_WithAttrsAndGroupKeepDecorating(t *testing.T) {
	var buf bytes.Buffer

	logger := newTestLogger(&buf).With("component", "history").WithGroup("g")

	ctx := WithAttrs(context.Background(), slog.String("choice", "audio"))
	logger.InfoContext(ctx, "saved", "count", 3)

	rec := lastRecord(t, &buf)
	assert.Equal(t, "history", rec["component"])

	group, ok := rec["g"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "audio", group["choice"])
	assert.InDelta(t, 3, group["count"], 0)
}

func TestNewHandler_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewHandler(nil) })
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, LoggerFromContext(WithLogger(context.Background(), logger)))
}

func TestWithAttrs_NoAttrsKeepsContext(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, ctx, WithAttrs(ctx))
	assert.Empty(t, AttrsFromContext(ctx))
}
