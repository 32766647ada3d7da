package transport

import (
	"context"

	"github.com/rhuss/omnigate/pkg/api"
)

type requestIDKey struct{}

// RequestIDFromContext returns the request id of ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID attaches a request id to ctx. Adapters set it from
// X-Request-ID (HTTP) or the request header map (NATS) before dispatch.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID makes sure every invocation carries a request id, keeping the
// one the adapter or dispatcher already set.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, api.NewRequestID())
			}
			return next.Handle(ctx, req)
		})
	}
}
