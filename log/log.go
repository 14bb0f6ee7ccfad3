// Package log carries slog plumbing shared across the daemon: a context
// logger, group-based filtering, and a fan-out handler.
package log

import (
	"context"
	"log/slog"
)

type ctxLoggerKey struct{}

// ContextWithLogger stores logger in ctx for request-scoped logging.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// LoggerFromContext returns the logger stored by ContextWithLogger, falling
// back to slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
