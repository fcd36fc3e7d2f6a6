// Package corvidlog holds the structured logging conventions shared by
// every component in this module: standard slog field-key constants and a
// request-scoped context carrying a trace id through call sites.
package corvidlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Standard field keys, kept protocol-agnostic so log aggregation queries
// work the same whether the record came from portpool, connector, or
// replicaset.
const (
	KeyTraceID    = "trace_id"
	KeyAddress    = "address"
	KeyDB         = "db"
	KeyCollection = "collection"
	KeyOutcome    = "outcome"
	KeyRetries    = "retries"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// TraceID returns a slog.Attr for request correlation.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// Address returns a slog.Attr for a server address.
func Address(addr string) slog.Attr { return slog.String(KeyAddress, addr) }

// DB returns a slog.Attr for a database name.
func DB(db string) slog.Attr { return slog.String(KeyDB, db) }

// Collection returns a slog.Attr for a collection name.
func Collection(coll string) slog.Attr { return slog.String(KeyCollection, coll) }

// Outcome returns a slog.Attr for a call/say outcome classification.
func Outcome(outcome string) slog.Attr { return slog.String(KeyOutcome, outcome) }

// Retries returns a slog.Attr for the remaining retry count.
func Retries(n int) slog.Attr { return slog.Int(KeyRetries, n) }

// DurationMs returns a slog.Attr for an operation's duration in
// milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error, or a zero Attr for a nil error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

type contextKey struct{}

var logContextKey = contextKey{}

// RequestContext holds request-scoped logging state threaded through a
// call via context.Context.
type RequestContext struct {
	TraceID   string
	StartTime time.Time
}

// WithContext returns a new context carrying rc.
func WithContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, logContextKey, rc)
}

// FromContext retrieves the RequestContext stored by WithContext, or nil.
func FromContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(logContextKey).(*RequestContext)
	return rc
}

// New creates a RequestContext with a fresh start time, for computing
// DurationMs once the operation completes. An empty traceID is replaced with
// a freshly generated one so every call/say still gets a correlation id.
func New(traceID string) *RequestContext {
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return &RequestContext{TraceID: traceID, StartTime: time.Now()}
}

// DurationMs returns the elapsed time since rc.StartTime in milliseconds.
func (rc *RequestContext) DurationMs() float64 {
	if rc == nil || rc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(rc.StartTime).Microseconds()) / 1000.0
}

// For returns base extended so that every record carries the trace id
// carried by ctx. When ctx holds no trace id, base is returned unchanged; a
// nil base means slog.Default.
func For(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	rc := FromContext(ctx)
	if rc == nil || rc.TraceID == "" {
		return base
	}
	return base.With(TraceID(rc.TraceID))
}
