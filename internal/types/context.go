package types

import (
	"context"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

// WithTraceID stores the trace ID in the context. Consumers stamp each job's
// trace ID here so upstream calls and log lines triggered by the job can be
// correlated.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// GetTraceID retrieves the trace ID from the context, or "" if unset.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
