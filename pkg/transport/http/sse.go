package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/observability"
	"github.com/rhuss/omnigate/pkg/session"
	"github.com/rhuss/omnigate/pkg/transport"
)

// keepAliveFrame is an SSE comment; clients ignore it.
var keepAliveFrame = []byte(": keepalive\n\n")

// createSession registers a session for a long-lived connection. A
// rejected session counts as a rejected handshake and the error is
// written to w.
func (a *Adapter) createSession(w http.ResponseWriter, r *http.Request, p api.Protocol) (*session.Session, bool) {
	sess, err := a.sessions.Create(r.Context(), p)
	if err != nil {
		observability.HandshakeRejectedTotal.WithLabelValues(string(p)).Inc()
		transport.WriteAPIError(w, api.AsError(err))
		return nil, false
	}
	return sess, true
}

// handleSSE runs a server-push subscription. The subscription handler
// runs in its own goroutine and fills the session queue; this goroutine
// pumps the queue to the client until the handler finishes and the queue
// has flushed, or the client goes away.
func (a *Adapter) handleSSE(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.createSession(w, r, api.ProtocolSSE)
	if !ok {
		return
	}
	defer sess.Close(api.CloseRemote)

	if err := sess.Open(); err != nil {
		transport.WriteAPIError(w, api.NewInternalError("session could not be opened"))
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", sess.ID())
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	in := codec.Input{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: lowerHeaders(r.Header),
	}
	go func() {
		if _, err := a.d.Stream(sess.Context(), sess, in); err != nil {
			a.logger.Debug("stream ended with error",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()),
			)
		}
	}()

	a.pumpSSE(r.Context(), w, rc, sess)
}

func (a *Adapter) pumpSSE(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController, sess *session.Session) {
	for {
		nctx, cancel := context.WithTimeout(ctx, a.cfg.SSE.KeepAlive)
		msg, err := sess.Next(nctx)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			msg = keepAliveFrame
		case errors.Is(err, io.EOF):
			return
		default:
			return
		}

		_ = rc.SetWriteDeadline(time.Now().Add(a.cfg.SSE.WriteTimeout))
		if _, err := w.Write(msg); err != nil {
			sess.Close(api.CloseRemote)
			return
		}
		if err := rc.Flush(); err != nil {
			sess.Close(api.CloseRemote)
			return
		}
	}
}
