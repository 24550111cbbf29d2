// Package trace provides trace ID generation and context propagation so that
// every log line and audit row of one trigger invocation can be correlated.
package trace

import (
	"context"
	"fmt"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

// traceKey is the unexported context key used to store the trace ID.
type traceKey struct{}

var generate func() string

func init() {
	gen, err := nanoid.Standard(21)
	if err != nil {
		// Only fails for lengths outside 2..255.
		panic(fmt.Sprintf("trace: init nanoid generator: %v", err))
	}
	generate = gen
}

// GenerateID generates a unique trace ID
func GenerateID() string {
	id := generate()
	if id == "" {
		return fmt.Sprintf("trace_%d", time.Now().UnixNano())
	}
	return "t_" + id
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Ensure returns ctx unchanged when it already carries a trace ID, otherwise a
// child context with a freshly generated one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateID()
	return WithTraceID(ctx, id), id
}
