package ftindex

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with ftindex-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithSegment adds a segment field to the logger.
func (l *Logger) WithSegment(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", name),
	}
}

// WithGen adds a generation field to the logger.
func (l *Logger) WithGen(gen int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("gen", gen),
	}
}

// LogFlush logs the flush of one per-thread context.
func (l *Logger) LogFlush(ctx context.Context, segment string, docs int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"segment", segment,
			"docs", docs,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"segment", segment,
			"docs", docs,
			"duration", duration,
		)
	}
}

// LogPublish logs a published segment or update packet.
func (l *Logger) LogPublish(ctx context.Context, what string, gen int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "publish failed",
			"what", what,
			"del_gen", gen,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "published",
			"what", what,
			"del_gen", gen,
		)
	}
}

// LogPurge logs a flush queue purge.
func (l *Logger) LogPurge(ctx context.Context, published int, pending int, err error) {
	if err != nil {
		l.WarnContext(ctx, "purge stopped",
			"published", published,
			"pending", pending,
			"error", err,
		)
	} else if published > 0 {
		l.DebugContext(ctx, "purge completed",
			"published", published,
			"pending", pending,
		)
	}
}

// LogCommit logs a commit.
func (l *Logger) LogCommit(ctx context.Context, gen uint64, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "commit completed",
			"gen", gen,
			"segments", segments,
		)
	}
}
