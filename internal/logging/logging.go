// Package logging configures slog and carries request-scoped fields
// (request, session and user ids) through context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey int

const (
	keyRequestID ctxKey = iota
	keySessionID
	keyUserID
	keyLogger
)

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing to stdout.
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a logger writing to w. format is "json" or text.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// WithRequestID stores a request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}

// WithSession stores the active session and user ids in ctx.
func WithSession(ctx context.Context, sessionID, userID string) context.Context {
	ctx = context.WithValue(ctx, keySessionID, sessionID)
	return context.WithValue(ctx, keyUserID, userID)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, keyLogger, logger)
}

// FromContext returns the logger stored in ctx or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(keyLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// L returns the context logger annotated with whichever request, session
// and user ids ctx carries.
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	var attrs []any
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if id, _ := ctx.Value(keySessionID).(string); id != "" {
		attrs = append(attrs, "session_id", id)
	}
	if id, _ := ctx.Value(keyUserID).(string); id != "" {
		attrs = append(attrs, "user_id", id)
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
