// Package logging provides structured logging for the history daemon.
//
// It wraps log/slog so every component logs the same way: text or JSON
// output, a configurable level, and a "component" attribute per subsystem.
//
// Usage:
//
//	logging.Init(slog.LevelInfo, false)
//
//	log := logging.Component("tiering")
//	log.Info("migration complete", "bucket", key, "events", n)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// Init initializes the global logger writing to stdout.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, level, jsonFormat)
}

// InitWriter initializes the global logger writing to w.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	l := slog.New(handler)

	mu.Lock()
	logger = l
	mu.Unlock()

	slog.SetDefault(l)
}

// Discard silences all logging. Tests call this to keep output clean.
func Discard() {
	InitWithHandler(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(slog.LevelInfo, false)
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	return get()
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// Component returns a logger for a specific component.
//
//	log := logging.Component("cold")
//	log.Info("index loaded") // time=... level=INFO component=cold msg="index loaded"
func Component(name string) *slog.Logger {
	return get().With("component", name)
}

type contextKey int

const contextKeyQueryID contextKey = iota

// ContextWithQueryID tags a context so query logs can be correlated.
func ContextWithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyQueryID, id)
}

// WithContext returns a logger carrying values found in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	l := get()
	if id, ok := ctx.Value(contextKeyQueryID).(string); ok {
		l = l.With("query_id", id)
	}
	return l
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warning level.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { get().Error(msg, args...) }
