package matchengine

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with engine-specific helpers.
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
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithType adds an entity type field to the logger.
func (l *Logger) WithType(typ string) *Logger {
	return &Logger{
		Logger: l.Logger.With("type", typ),
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, typ string, topK, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"type", typ,
			"top_k", topK,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"type", typ,
			"top_k", topK,
			"results", results,
		)
	}
}

// LogUpsert logs an upsert operation.
func (l *Logger) LogUpsert(ctx context.Context, typ, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"type", typ,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "upsert completed",
			"type", typ,
			"id", id,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, typ, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"type", typ,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"type", typ,
			"id", id,
		)
	}
}

// LogRebuild logs an index rebuild.
func (l *Logger) LogRebuild(ctx context.Context, typ string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"type", typ,
			"count", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"type", typ,
			"count", count,
		)
	}
}

// LogFallback logs a degraded stage that recovered through a fallback.
func (l *Logger) LogFallback(ctx context.Context, stage, typ string, err error) {
	l.WarnContext(ctx, "degraded to fallback",
		"stage", stage,
		"type", typ,
		"error", err,
	)
}

// LogSnapshot logs a snapshot save or load.
func (l *Logger) LogSnapshot(ctx context.Context, op, typ, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot "+op+" failed",
			"type", typ,
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot "+op+" completed",
			"type", typ,
			"name", name,
		)
	}
}
