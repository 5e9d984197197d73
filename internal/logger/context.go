package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context shared by every
// component that processes RDMnet traffic (connections, LLRP target and
// manager, discovery adapter, broker routing).
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	Component string    // CID of the local component, as a string
	Scope     string    // RDMnet scope string
	RemoteCID string    // CID of the remote peer, once known
	Handle    uint32    // connection or client handle
	Vector    string    // wire-level message vector being processed
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a connection handle.
func NewLogContext(handle uint32) *LogContext {
	return &LogContext{
		Handle:    handle,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithScope returns a copy with the scope set
func (lc *LogContext) WithScope(scope string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Scope = scope
	}
	return clone
}

// WithRemoteCID returns a copy with the remote component CID set
func (lc *LogContext) WithRemoteCID(cid string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RemoteCID = cid
	}
	return clone
}

// WithVector returns a copy with the current message vector set
func (lc *LogContext) WithVector(vector string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Vector = vector
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
