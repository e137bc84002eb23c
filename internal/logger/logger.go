package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type Config struct {
	Level     slog.Level
	Format    string
	Output    io.Writer
	AddSource bool
}

// DefaultConfig logs text to stderr. Stdout is the protocol stream and must
// never receive diagnostics.
func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Format:    "text",
		Output:    os.Stderr,
		AddSource: false,
	}
}

// active is the handler every logger in the process delegates to. Component
// loggers are created at package init, before the config is loaded, so they
// must not capture a concrete handler; Init swaps this pointer and all of
// them pick up the new level and format.
var active atomic.Pointer[slog.Handler]

func init() {
	h := buildHandler(DefaultConfig())
	active.Store(&h)
	slog.SetDefault(slog.New(rootHandler{}))
}

func buildHandler(cfg Config) slog.Handler {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	if cfg.Format == "json" {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// Init installs a new handler. Safe to call again on config reload.
func Init(cfg Config) {
	h := buildHandler(cfg)
	active.Store(&h)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
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

// rootHandler resolves the active handler on every call instead of binding
// one at construction. With-attrs and with-group state is kept as a chain of
// transforms replayed onto whatever handler is current.
type rootHandler struct {
	chain []func(slog.Handler) slog.Handler
}

func (h rootHandler) resolve() slog.Handler {
	cur := *active.Load()
	for _, step := range h.chain {
		cur = step(cur)
	}
	return cur
}

func (h rootHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h rootHandler) Handle(ctx context.Context, rec slog.Record) error {
	return h.resolve().Handle(ctx, rec)
}

func (h rootHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.extend(func(next slog.Handler) slog.Handler {
		return next.WithAttrs(attrs)
	})
}

func (h rootHandler) WithGroup(name string) slog.Handler {
	return h.extend(func(next slog.Handler) slog.Handler {
		return next.WithGroup(name)
	})
}

func (h rootHandler) extend(step func(slog.Handler) slog.Handler) rootHandler {
	chain := make([]func(slog.Handler) slog.Handler, 0, len(h.chain)+1)
	chain = append(chain, h.chain...)
	chain = append(chain, step)
	return rootHandler{chain: chain}
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func ForComponent(component string) *slog.Logger {
	return slog.New(rootHandler{}).With("component", component)
}

func With(args ...any) *slog.Logger {
	return slog.New(rootHandler{}).With(args...)
}
