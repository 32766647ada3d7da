package transport

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that emits a structured log entry for each
// handler invocation with the protocol, target, session, duration and
// request ID. Wire-level details (HTTP status codes) are logged by the
// protocol adapters.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
			start := time.Now()

			body, err := next.Handle(ctx, req)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("protocol", string(req.Envelope.Protocol())),
				slog.String("target", req.Envelope.Target()),
				slog.Duration("duration", time.Since(start)),
			}
			if sid := req.Envelope.SessionID(); sid != "" {
				attrs = append(attrs, slog.String("session_id", sid))
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelWarn, "handler failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "handler completed", attrs...)
			}

			return body, err
		})
	}
}
