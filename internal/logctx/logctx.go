package logctx

import (
	"context"
	"io"
	"log/slog"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	itemKey   contextKey = "item_id"
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

// WithItemID tags the context with the transfer item it is operating on.
// TraceHandler adds it to every record logged with that context.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemKey, id)
}

// ItemIDFromContext returns the item id set by WithItemID, or "".
func ItemIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(itemKey).(string); ok {
		return id
	}

	return ""
}

// Discard returns a logger that drops everything. Useful for tests and optional components.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
