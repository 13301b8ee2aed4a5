// Package trace provides request-scoped trace IDs for log correlation
// across the capture pipeline (session -> detector -> orchestrator -> vision).
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
)

type ctxKey struct{}

var traceCtxKey = ctxKey{}

// Context holds the identifiers for one identification request or
// capture-session event.
type Context struct {
	TraceID string
	StepID  string
}

// New creates a trace context with a fresh ID.
func New() Context {
	return Context{TraceID: generateID(16)}
}

// WithStep returns a copy of the context tagged with a step identifier.
func (c Context) WithStep(stepID string) Context {
	c.StepID = stepID
	return c
}

// FromContext extracts the trace context, reporting whether one was set.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceCtxKey).(Context)
	return tc, ok
}

// WithContext injects the trace context into a context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceCtxKey, tc)
}

// EnsureContext returns the existing trace context or creates a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// Logger returns a slog.Logger carrying the trace fields from ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := make([]any, 0, 4)
	args = append(args, "trace_id", tc.TraceID)
	if tc.StepID != "" {
		args = append(args, "step_id", tc.StepID)
	}
	return slog.Default().With(args...)
}

func generateID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
