// Package logging wraps log/slog with pulse's context keys and a few
// domain helpers for the tracking and sync paths.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const (
	// SyncAttemptKey is the context key for the id of one SyncPulses call.
	SyncAttemptKey contextKey = "sync_attempt"
	// EntityKey is the context key for the entity being tracked.
	EntityKey contextKey = "entity"
)

// Level represents log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents log output formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logging configuration.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

// DefaultConfig logs text at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatText, Output: os.Stderr}
}

// Logger wraps slog.Logger.
type Logger struct {
	slogger *slog.Logger
}

// New creates a Logger from cfg.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(string(cfg.Level)),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	return &Logger{slogger: slog.New(handler)}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{slogger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(l string) slog.Level {
	switch Level(strings.ToLower(l)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slogger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slogger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, enrich(ctx, args)...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, enrich(ctx, args)...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, enrich(ctx, args)...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, enrich(ctx, args)...)
}

// enrich prepends context values as log attributes.
func enrich(ctx context.Context, args []any) []any {
	out := make([]any, 0, len(args)+4)
	if v := ctx.Value(SyncAttemptKey); v != nil {
		out = append(out, string(SyncAttemptKey), v)
	}
	if v := ctx.Value(EntityKey); v != nil {
		out = append(out, string(EntityKey), v)
	}
	return append(out, args...)
}

// Underlying returns the underlying slog.Logger.
func (l *Logger) Underlying() *slog.Logger {
	return l.slogger
}

// WithSyncAttempt tags ctx with a sync attempt id.
func WithSyncAttempt(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SyncAttemptKey, id)
}

// WithEntity tags ctx with the tracked entity.
func WithEntity(ctx context.Context, entity string) context.Context {
	return context.WithValue(ctx, EntityKey, entity)
}

// --- Domain helpers ---

// LogSyncAttempt logs the start of one network attempt.
func LogSyncAttempt(ctx context.Context, logger *Logger, attempt, items, batches int) {
	logger.DebugContext(ctx, "sync attempt started",
		"attempt", attempt,
		"items", items,
		"batches", batches,
	)
}

// LogSyncComplete logs a drained queue.
func LogSyncComplete(ctx context.Context, logger *Logger, synced int, duration time.Duration) {
	logger.InfoContext(ctx, "sync completed",
		"synced", synced,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogSyncRetry logs a failed attempt that will be retried after delay.
func LogSyncRetry(ctx context.Context, logger *Logger, attempt int, err error, delay time.Duration) {
	logger.WarnContext(ctx, "sync attempt failed, retrying",
		"attempt", attempt,
		"error", err.Error(),
		"retry_in_ms", delay.Milliseconds(),
	)
}

// LogSyncFailed logs retry exhaustion.
func LogSyncFailed(ctx context.Context, logger *Logger, attempts, pending int, err error) {
	logger.ErrorContext(ctx, "sync failed",
		"attempts", attempts,
		"pending", pending,
		"error", err.Error(),
	)
}

// LogTrackingFailed logs a swallowed tracking error.
func LogTrackingFailed(ctx context.Context, logger *Logger, err error) {
	logger.WarnContext(ctx, "tracking failed", "error", err.Error())
}
