package transport

// Middleware wraps a Handler. The dispatcher applies it around every
// invocation, whatever protocol the Envelope arrived on.
type Middleware func(Handler) Handler

// Chain composes middleware so that the first one is the outermost:
// Chain(a, b, c)(h) is a(b(c(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
