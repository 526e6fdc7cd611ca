package core

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader carries a request ID across NATS and HTTP hops.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID retrieves the request ID from context, or "" when none is set.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewID returns a random UUID string. It is used for request IDs and
// time-server session IDs.
func NewID() string {
	return uuid.NewString()
}

// EnsureRequestID returns id when it parses as a UUID, otherwise a fresh one.
func EnsureRequestID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return NewID()
}
