package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/omnigate/pkg/api"
)

// Recovery turns a handler panic into an internal error Result for that
// one unit of work. The listener, the dispatcher and other sessions keep
// running. The panic value and stack are logged; clients only see a
// generic message.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (body any, retErr error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				attrs := []slog.Attr{
					slog.String("request_id", RequestIDFromContext(ctx)),
					slog.String("panic", fmt.Sprint(r)),
					slog.String("stack", string(debug.Stack())),
				}
				if env := req.Envelope; env != nil {
					attrs = append(attrs,
						slog.String("protocol", string(env.Protocol())),
						slog.String("target", env.Target()),
					)
				}
				slog.LogAttrs(ctx, slog.LevelError, "handler panicked", attrs...)

				body = nil
				retErr = &api.Error{Kind: api.KindInternal, Code: "handler_panic", Message: "internal server error"}
			}()
			return next.Handle(ctx, req)
		})
	}
}
