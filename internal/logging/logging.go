// Package logging configures the process-wide slog logger. Component
// loggers can be created at package init time; they follow whatever
// handler Init installs later.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Structured field names shared by every package.
const (
	KeySessionID  = "session"
	KeyComponent  = "component"
	KeyCamera     = "camera"
	KeyState      = "state"
	KeyPath       = "path"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// deferredHandler replays its With/WithGroup chain onto the current output
// handler on every call.
type deferredHandler struct {
	out   *atomic.Pointer[slog.Handler]
	chain []func(slog.Handler) slog.Handler
}

func (h *deferredHandler) resolve() slog.Handler {
	handler := *h.out.Load()
	for _, apply := range h.chain {
		handler = apply(handler)
	}
	return handler
}

func (h *deferredHandler) extend(step func(slog.Handler) slog.Handler) *deferredHandler {
	chain := make([]func(slog.Handler) slog.Handler, len(h.chain), len(h.chain)+1)
	copy(chain, h.chain)
	return &deferredHandler{out: h.out, chain: append(chain, step)}
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= levelVar.Level()
}

func (h *deferredHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.extend(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.extend(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

var (
	levelVar slog.LevelVar
	output   atomic.Pointer[slog.Handler]
	root     = slog.New(&deferredHandler{out: &output})
)

func init() {
	install(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &levelVar}))
	slog.SetDefault(root)
}

func install(h slog.Handler) { output.Store(&h) }

// Init installs the handler for format ("text" or "json") at level, writing
// to w (stderr when nil; stdout is left to command output). Loggers obtained
// earlier pick it up immediately.
func Init(format, level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	levelVar.Set(parseLevel(level))
	opts := &slog.HandlerOptions{Level: &levelVar}
	if strings.EqualFold(format, "json") {
		install(slog.NewJSONHandler(w, opts))
	} else {
		install(slog.NewTextHandler(w, opts))
	}
}

// SetLevel changes the minimum level without replacing the handler.
func SetLevel(level string) { levelVar.Set(parseLevel(level)) }

// L returns a logger tagged with a component name.
func L(component string) *slog.Logger {
	return root.With(slog.String(KeyComponent, component))
}

// WithSession tags logger with a capture session id.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String(KeySessionID, sessionID))
}

func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored by NewContext, or the root logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return root
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
