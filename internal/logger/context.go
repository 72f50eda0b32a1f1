package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds batch- and file-scoped fields appended by the *Ctx helpers.
type LogContext struct {
	TraceID   string
	SpanID    string
	BatchID   string
	Path      string
	Mode      string // proxied or direct
	Pass      int    // batch-level pass, 0 for the initial traversal
	StartTime time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext returns the LogContext stored in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext starts a LogContext for a batch.
func NewLogContext(batchID string) *LogContext {
	return &LogContext{
		BatchID:   batchID,
		StartTime: time.Now(),
	}
}

func (lc *LogContext) clone() *LogContext {
	if lc == nil {
		return &LogContext{StartTime: time.Now()}
	}
	c := *lc
	return &c
}

// WithPath returns a copy scoped to a single file.
func (lc *LogContext) WithPath(path string) *LogContext {
	c := lc.clone()
	c.Path = path
	c.StartTime = time.Now()
	return c
}

// WithMode returns a copy with the upload mode set.
func (lc *LogContext) WithMode(mode string) *LogContext {
	c := lc.clone()
	c.Mode = mode
	return c
}

// WithPass returns a copy with the batch-level pass number set.
func (lc *LogContext) WithPass(pass int) *LogContext {
	c := lc.clone()
	c.Pass = pass
	return c
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.clone()
	c.TraceID = traceID
	c.SpanID = spanID
	return c
}

// DurationMs returns the time since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
