package logger

import (
	"context"
	"log/slog"
	"os"
)

// Entry is what a Listener receives for every forwarded log call.
type Entry struct {
	Level   slog.Level
	Name    string
	Message string
	Fields  []Field
}

// Listener receives log entries. It is called synchronously on the logging
// goroutine and must not block.
type Listener func(Entry)

// listenerLogger forwards entries at or above minLevel to fn and then to the
// wrapped logger.
type listenerLogger struct {
	base     Logger
	fn       Listener
	minLevel slog.Level
	name     string
}

// WithListener wraps base so that every entry at or above minLevel is also
// handed to fn. A nil fn returns base unchanged.
func WithListener(base Logger, minLevel slog.Level, fn Listener) Logger {
	if fn == nil {
		return base
	}
	return &listenerLogger{base: base, fn: fn, minLevel: minLevel}
}

func (l *listenerLogger) Named(name string) Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return &listenerLogger{base: l.base.Named(name), fn: l.fn, minLevel: l.minLevel, name: full}
}

func (l *listenerLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.notify(slog.LevelInfo, msg, fields)
	l.base.Info(ctx, msg, fields...)
}

func (l *listenerLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.notify(slog.LevelError, msg, fields)
	l.base.Error(ctx, msg, fields...)
}

func (l *listenerLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.notify(slog.LevelDebug, msg, fields)
	l.base.Debug(ctx, msg, fields...)
}

func (l *listenerLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.notify(slog.LevelWarn, msg, fields)
	l.base.Warn(ctx, msg, fields...)
}

func (l *listenerLogger) Fatal(ctx context.Context, msg string, fields ...Field) {
	l.notify(slog.LevelError, msg, fields)
	l.base.Error(ctx, msg, fields...)
	os.Exit(1)
}

func (l *listenerLogger) notify(level slog.Level, msg string, fields []Field) {
	if level < l.minLevel {
		return
	}
	copied := make([]Field, len(fields))
	copy(copied, fields)
	l.fn(Entry{Level: level, Name: l.name, Message: msg, Fields: copied})
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (nopLogger) Debug(context.Context, string, ...Field) {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Fatal(context.Context, string, ...Field) { os.Exit(1) }
func (n nopLogger) Named(string) Logger                   { return n }
