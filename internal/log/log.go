// Package log provides the structured, key/value logger used across the
// watcher, in the same call shape the rest of the corpus favors:
// logger.Error("message", "key", value, "key2", value2).
package log

import (
	"context"
	"log/slog"
	"os"
)

var root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetLevel adjusts the root handler's minimum level. Loggers already built
// by New keep the handler they were created with.
func SetLevel(level slog.Level) {
	root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Logger is a named, structured logger for one component (tracker, node,
// core, derived, bootstrap, ...).
type Logger struct {
	module string
	base   *slog.Logger
}

// New returns a logger tagged with the given module name.
func New(module string) *Logger {
	return &Logger{module: module, base: root.With("module", module)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.base.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)   { l.base.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)   { l.base.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any)  { l.base.Error(msg, kv...) }

// Crit logs at error level with a "fatal" marker and is reserved for errors
// that lead to process exit; it never calls os.Exit itself so callers keep
// control of shutdown ordering (see cmd/ergowatch).
func (l *Logger) Crit(msg string, kv ...any) {
	l.base.Log(context.Background(), slog.LevelError+4, msg, append([]any{"fatal", true}, kv...)...)
}
