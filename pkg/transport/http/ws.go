package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/observability"
	"github.com/rhuss/omnigate/pkg/session"
)

// checkOrigin accepts any origin unless AllowedOrigins is set.
func (a *Adapter) checkOrigin(r *http.Request) bool {
	if len(a.cfg.WS.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(a.cfg.WS.AllowedOrigins, origin)
}

// rejectHandshake is the upgrader's error writer.
func (a *Adapter) rejectHandshake(w http.ResponseWriter, r *http.Request, status int, reason error) {
	observability.HandshakeRejectedTotal.WithLabelValues(string(api.ProtocolWS)).Inc()
	a.logger.Debug("websocket handshake rejected",
		slog.Int("status", status),
		slog.String("error", reason.Error()),
	)
	http.Error(w, http.StatusText(status), status)
}

// closeCode maps a session close reason to a WebSocket close code.
func closeCode(reason api.CloseReason) int {
	switch reason {
	case api.CloseShutdown, api.CloseTimeout:
		return websocket.CloseGoingAway
	case api.CloseError:
		return websocket.CloseInternalServerErr
	default:
		return websocket.CloseNormalClosure
	}
}

// handleWS upgrades the connection and runs its session: the read loop
// dispatches each inbound frame, the write loop pumps the session queue to
// the client. The connection ends when either side closes the session.
func (a *Adapter) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.createSession(w, r, api.ProtocolWS)
	if !ok {
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, http.Header{"X-Session-ID": {sess.ID()}})
	if err != nil {
		sess.Close(api.CloseError)
		return
	}
	if err := sess.Open(); err != nil {
		sess.Close(api.CloseError)
		_ = conn.Close()
		return
	}

	// Pongs only prove the peer is alive. They extend the read deadline
	// but are not session activity, so a silent client still goes idle.
	conn.SetReadLimit(a.cfg.WS.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(a.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(a.pongWait()))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.writeLoop(conn, sess)
	}()

	a.readLoop(conn, sess, codec.Input{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: lowerHeaders(r.Header),
	})
	<-done
}

// pongWait is how long the read loop waits for any frame, a pong included,
// before treating the connection as dead.
func (a *Adapter) pongWait() time.Duration {
	return a.cfg.WS.PingInterval + a.cfg.WS.WriteTimeout
}

func (a *Adapter) readLoop(conn *websocket.Conn, sess *session.Session, base codec.Input) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// Let queued replies flush before the write loop closes.
				_ = sess.Drain(api.CloseRemote)
			} else {
				sess.Close(api.CloseRemote)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(a.pongWait()))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		in := base
		in.Body = data
		_, err = a.d.DispatchFrame(sess.Context(), sess, in)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrClosed):
			return
		case errors.Is(err, api.ErrBackpressure):
			a.logger.Debug("websocket reply dropped",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()),
			)
		default:
			a.logger.Warn("websocket frame failed",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()),
			)
			sess.Close(api.CloseError)
			return
		}
	}
}

// writeLoop pumps the session queue to the client and pings it every
// PingInterval, busy or not, so the read deadline sees a pong in time.
func (a *Adapter) writeLoop(conn *websocket.Conn, sess *session.Session) {
	defer conn.Close()

	nextPing := time.Now().Add(a.cfg.WS.PingInterval)
	for {
		if time.Until(nextPing) <= 0 {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(a.cfg.WS.WriteTimeout)); err != nil {
				sess.Close(api.CloseRemote)
				return
			}
			nextPing = time.Now().Add(a.cfg.WS.PingInterval)
		}

		ctx, cancel := context.WithDeadline(context.Background(), nextPing)
		msg, err := sess.Next(ctx)
		cancel()

		deadline := time.Now().Add(a.cfg.WS.WriteTimeout)
		switch {
		case err == nil:
			_ = conn.SetWriteDeadline(deadline)
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				sess.Close(api.CloseRemote)
				return
			}
		case errors.Is(err, context.DeadlineExceeded):
		default:
			// Drained (io.EOF) or closed.
			reason := sess.Reason()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeCode(reason), string(reason)), deadline)
			return
		}
	}
}
