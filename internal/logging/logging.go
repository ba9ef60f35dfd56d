// Package logging configures the process-wide slog logger.
//
// Log lines follow the "package: message" convention with key/value
// attributes, e.g. slog.Info("capture: source running", "position", "back").
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ParseLevel converts debug, info, warn or error (any case) to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", level)
	}
}

// NewHandler returns a JSON or text handler writing to w.
func NewHandler(w io.Writer, level slog.Leveler, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "json", "":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
}

// Setup installs a default logger writing to w and returns its level var so
// the level can be changed at runtime.
func Setup(w io.Writer, level, format string) (*slog.LevelVar, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(lvl)

	handler, err := NewHandler(w, levelVar, format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(handler))
	return levelVar, nil
}

// OpenFile opens (appending) a log file, creating parent directories.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return f, nil
}

// Event is a condensed log record for on-screen display.
type Event struct {
	Level   slog.Level
	Message string
	Attrs   string
}

// Tee is a slog.Handler that passes records to next and also forwards those
// at or above min to fn. fn runs synchronously and must not log.
type Tee struct {
	next  slog.Handler
	min   slog.Level
	fn    func(Event)
	attrs []slog.Attr
	mu    *sync.Mutex
}

// NewTee wraps next.
func NewTee(next slog.Handler, min slog.Level, fn func(Event)) *Tee {
	return &Tee{next: next, min: min, fn: fn, mu: &sync.Mutex{}}
}

// Enabled implements slog.Handler.
func (t *Tee) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= t.min || t.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (t *Tee) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= t.min {
		var sb strings.Builder
		write := func(a slog.Attr) bool {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(a.Key)
			sb.WriteByte('=')
			sb.WriteString(a.Value.String())
			return true
		}
		for _, a := range t.attrs {
			write(a)
		}
		r.Attrs(write)

		t.mu.Lock()
		t.fn(Event{Level: r.Level, Message: r.Message, Attrs: sb.String()})
		t.mu.Unlock()
	}

	if t.next.Enabled(ctx, r.Level) {
		return t.next.Handle(ctx, r)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (t *Tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Tee{
		next:  t.next.WithAttrs(attrs),
		min:   t.min,
		fn:    t.fn,
		attrs: append(append([]slog.Attr(nil), t.attrs...), attrs...),
		mu:    t.mu,
	}
}

// WithGroup implements slog.Handler. Grouped attributes are flattened in
// forwarded events.
func (t *Tee) WithGroup(name string) slog.Handler {
	return &Tee{next: t.next.WithGroup(name), min: t.min, fn: t.fn, attrs: t.attrs, mu: t.mu}
}
