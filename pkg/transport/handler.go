package transport

import (
	"context"

	"github.com/rhuss/omnigate/pkg/api"
)

// Handler processes one dispatched Envelope. It returns the body of an Ok
// Result, or an error that the dispatcher classifies into an error Result.
//
// Handlers must observe ctx: it is cancelled when the invocation times out,
// when the owning Session closes, or when the request is cancelled through
// the in-flight registry. Handlers may be invoked more than once for the same
// Envelope when encoding fails transiently, so they must be idempotent.
type Handler interface {
	Handle(ctx context.Context, req *Request) (any, error)
}

// HandlerFunc is an adapter that allows using an ordinary function as a
// Handler.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Handle calls f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// Request is the input of a Handler invocation.
type Request struct {
	// Envelope is the decoded, immutable unit of work.
	Envelope *api.Envelope

	// Emitter is set for streaming protocols (SSE subscriptions) and nil
	// for request/response protocols.
	Emitter Emitter
}

// Emitter pushes intermediate results of a streaming handler onto the
// owning Session. Emit returns api.ErrBackpressure when the Session's queue
// is full under a drop policy or when blocking exceeded its bound, and
// session.ErrClosed once the Session has closed.
type Emitter interface {
	Emit(ctx context.Context, body any) error
}

// EmitterFunc is an adapter that allows using an ordinary function as an
// Emitter.
type EmitterFunc func(ctx context.Context, body any) error

// Emit calls f(ctx, body).
func (f EmitterFunc) Emit(ctx context.Context, body any) error {
	return f(ctx, body)
}
