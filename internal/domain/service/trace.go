package service

import (
	"context"

	"github.com/google/uuid"
)

// requestIDKey is the private context key for request IDs.
type requestIDKey struct{}

// WithRequestID injects a request ID into the context.
// If id is empty, a random one is generated.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom extracts the request ID from the context.
// Returns empty string if none is set.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
