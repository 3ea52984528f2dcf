// Package logctx carries the request logger and request scoped log attributes in a context.
package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	attrsKey  contextKey = "attrs"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithAttrs returns a context whose records, when logged through a Handler, carry attrs in
// addition to the ones already stored. Later values win for duplicated keys.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}

	current := AttrsFromContext(ctx)

	merged := make([]slog.Attr, 0, len(current)+len(attrs))
	for _, a := range current {
		if !containsKey(attrs, a.Key) {
			merged = append(merged, a)
		}
	}

	merged = append(merged, attrs...)

	return context.WithValue(ctx, attrsKey, merged)
}

// AttrsFromContext returns the attributes stored with WithAttrs.
func AttrsFromContext(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(attrsKey).([]slog.Attr)

	return attrs
}

func containsKey(attrs []slog.Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}

	return false
}
