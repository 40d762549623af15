package util

import (
	"context"

	"github.com/google/uuid"
)

type key string

const requestIDKey = key("request-id")

// WithRequestID returns a context carrying the given request id. An empty id
// is replaced with a freshly generated uuid-v4.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request id stored in ctx, or an empty string if
// none has been set.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// NewRequestID returns a uuid-v4 string to use as a request id.
func NewRequestID() string {
	return uuid.NewString()
}
