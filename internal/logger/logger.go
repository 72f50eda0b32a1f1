package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// sink is where records go and how they are rendered.
type sink struct {
	out    io.Writer
	closer io.Closer // non-nil when out is a file opened by Init
	color  bool
	format string
}

var (
	// level is shared by every handler so SetLevel never rebuilds one.
	level slog.LevelVar

	mu      sync.Mutex
	current sink
	active  atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	install(sink{out: os.Stderr, color: isTerminal(os.Stderr), format: "text"})
}

// install swaps the active sink, closing the previous file if any.
func install(s sink) {
	mu.Lock()
	defer mu.Unlock()

	if current.closer != nil && current.closer != s.closer {
		_ = current.closer.Close()
	}
	current = s

	var h slog.Handler
	if s.format == "json" {
		h = slog.NewJSONHandler(s.out, &slog.HandlerOptions{Level: &level})
	} else {
		h = NewConsoleHandler(s.out, &level, s.color)
	}
	active.Store(slog.New(h))
}

func snapshot() sink {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// Init configures the logger. Output can be "stdout", "stderr" (default), or
// a file path. Logs default to stderr so the batch report on stdout stays
// machine-readable.
func Init(cfg Config) error {
	s := snapshot()

	if cfg.Output != "" {
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			s = sink{out: os.Stdout, color: isTerminal(os.Stdout), format: s.format}
		case "stderr":
			s = sink{out: os.Stderr, color: isTerminal(os.Stderr), format: s.format}
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			s = sink{out: f, closer: f, format: s.format}
		}
	}
	if f, ok := parseFormat(cfg.Format); ok {
		s.format = f
	}
	if l, ok := parseLevel(cfg.Level); ok {
		level.Set(l)
	}

	install(s)
	return nil
}

// InitWithWriter directs output to w. This is primarily useful for testing.
func InitWithWriter(w io.Writer, lvl, format string, enableColor bool) {
	s := sink{out: w, color: enableColor, format: snapshot().format}
	if f, ok := parseFormat(format); ok {
		s.format = f
	}
	if l, ok := parseLevel(lvl); ok {
		level.Set(l)
	}
	install(s)
}

// Close releases a log file opened by Init and falls back to stderr.
func Close() {
	s := snapshot()
	if s.closer == nil {
		return
	}
	install(sink{out: os.Stderr, color: isTerminal(os.Stderr), format: s.format})
}

// SetLevel sets the minimum log level. Unknown values are ignored.
func SetLevel(lvl string) {
	if l, ok := parseLevel(lvl); ok {
		level.Set(l)
	}
}

// SetFormat switches between "text" and "json". Unknown values are ignored.
func SetFormat(format string) {
	f, ok := parseFormat(format)
	if !ok {
		return
	}
	s := snapshot()
	s.format = f
	install(s)
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return 0, false
}

func parseFormat(s string) (string, bool) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "text", "json":
		return f, true
	}
	return "", false
}

func emit(ctx context.Context, lvl slog.Level, msg string, args []any) {
	if lvl < level.Level() {
		return
	}
	active.Load().Log(ctx, lvl, msg, appendContextFields(ctx, args)...)
}

// Debug logs at debug level with structured fields.
// Usage: Debug("message", "key1", value1, "key2", value2)
func Debug(msg string, args ...any) { emit(context.Background(), slog.LevelDebug, msg, args) }

// Info logs at info level with structured fields.
func Info(msg string, args ...any) { emit(context.Background(), slog.LevelInfo, msg, args) }

// Warn logs at warn level with structured fields.
func Warn(msg string, args ...any) { emit(context.Background(), slog.LevelWarn, msg, args) }

// Error logs at error level with structured fields.
func Error(msg string, args ...any) { emit(context.Background(), slog.LevelError, msg, args) }

// DebugCtx logs at debug level, prefixed with the LogContext fields of ctx
// (trace ids, batch id, path, mode, pass).
func DebugCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelDebug, msg, args)
}

// InfoCtx logs at info level with context fields.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelInfo, msg, args)
}

// WarnCtx logs at warn level with context fields.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelWarn, msg, args)
}

// ErrorCtx logs at error level with context fields.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelError, msg, args)
}

// appendContextFields prepends LogContext fields so they lead the line.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 12+len(args))
	for _, f := range []struct {
		key string
		val any
		set bool
	}{
		{KeyTraceID, lc.TraceID, lc.TraceID != ""},
		{KeySpanID, lc.SpanID, lc.SpanID != ""},
		{KeyBatchID, lc.BatchID, lc.BatchID != ""},
		{KeyPath, lc.Path, lc.Path != ""},
		{KeyMode, lc.Mode, lc.Mode != ""},
		{KeyPass, lc.Pass, lc.Pass > 0},
	} {
		if f.set {
			out = append(out, f.key, f.val)
		}
	}
	return append(out, args...)
}

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return active.Load().With(args...)
}

// Duration returns the time since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
