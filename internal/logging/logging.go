package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyProfile    = "profile"
	KeyVerdict    = "verdict"
	KeySource     = "source"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// deferredHandler forwards every record to the handler Init installed last.
// Component loggers (logging.L) are built in package vars, before espgate
// has read its config, so they cannot hold the final handler directly.
type deferredHandler struct {
	target *atomic.Pointer[slog.Handler]
	// ops replays the logger's With/WithGroup calls, in order, on the target.
	ops []func(slog.Handler) slog.Handler
}

func newDeferredHandler(initial slog.Handler) *deferredHandler {
	target := &atomic.Pointer[slog.Handler]{}
	target.Store(&initial)
	return &deferredHandler{target: target}
}

func (h *deferredHandler) install(next slog.Handler) {
	h.target.Store(&next)
}

func (h *deferredHandler) resolve() slog.Handler {
	out := *h.target.Load()
	for _, op := range h.ops {
		out = op(out)
	}
	return out
}

func (h *deferredHandler) derive(op func(slog.Handler) slog.Handler) *deferredHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &deferredHandler{target: h.target, ops: append(ops, op)}
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	kept := append([]slog.Attr(nil), attrs...)
	return h.derive(func(next slog.Handler) slog.Handler { return next.WithAttrs(kept) })
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

// Until Init runs only warnings reach stderr. stdout belongs to the status
// line, so no handler ever writes there.
var (
	root          = newDeferredHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	defaultLogger = slog.New(root)
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init points every espgate logger at output (stderr when nil). format is
// "json" or "text"; level is parsed by parseLevel and defaults to info.
// Loggers obtained earlier from L switch over immediately.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		root.install(slog.NewJSONHandler(output, opts))
		return
	}
	root.install(slog.NewTextHandler(output, opts))
}

// FileOptions configures the optional log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	// Quiet drops the stderr copy and logs to the file only.
	Quiet bool
}

// Setup initializes logging to stderr and, when opts.Path is set, to a
// rotating file. The returned closer must be called before exit.
func Setup(format, level string, opts FileOptions) (io.Closer, error) {
	if opts.Path == "" {
		Init(format, level, os.Stderr)
		return io.NopCloser(nil), nil
	}

	rw, err := NewRotatingWriter(opts.Path, opts.MaxSizeMB, opts.MaxBackups)
	if err != nil {
		Init(format, level, os.Stderr)
		return io.NopCloser(nil), fmt.Errorf("log file %s: %w", opts.Path, err)
	}

	var out io.Writer = rw
	if !opts.Quiet {
		out = TeeWriter(os.Stderr, rw)
	}
	Init(format, level, out)
	return rw, nil
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithProfile returns a child logger carrying the evaluation profile name.
func WithProfile(logger *slog.Logger, profile string) *slog.Logger {
	return logger.With(slog.String(KeyProfile, profile))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
