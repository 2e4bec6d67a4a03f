// Package observability carries the process logger through contexts so
// libraries do not depend on a global logger configuration.
package observability

import (
	"context"
	"io"
	"log/slog"
	"math"
)

type contextKey string

const loggerKey = contextKey("LOGGER")

var noopLogger *slog.Logger

func init() {
	hdlr := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})
	noopLogger = slog.New(hdlr)
}

// NoopLogger returns a disabled Logger.
func NoopLogger() *slog.Logger {
	return noopLogger
}

// Logger returns the ctx logger or slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithLogger returns a new Context carrying l.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}
