package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/registry"
	"github.com/rhuss/omnigate/pkg/session"
	"github.com/rhuss/omnigate/pkg/transport"
)

func openSession(t *testing.T, m *session.Manager, p api.Protocol) *session.Session {
	t.Helper()
	sess, err := m.Create(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, sess.Open())
	return sess
}

// drain collects every message until the session finishes.
func drain(t *testing.T, sess *session.Session) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out []string
	for {
		msg, err := sess.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(msg))
	}
}

func TestStreamDeliversInOrderThenCompletes(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolSSE, "/sse", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			for i := 0; i < 5; i++ {
				if err := r.Emitter.Emit(ctx, fmt.Sprintf("Server message %d", i)); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}))
	})
	m := session.NewManager()
	sess := openSession(t, m, api.ProtocolSSE)

	res, err := d.Stream(sess.Context(), sess, codec.Input{Method: "GET", Path: "/sse"})
	require.NoError(t, err)
	assert.True(t, res.IsOK())
	assert.Equal(t, api.SessionDraining, sess.State())

	assert.Equal(t, []string{
		"data: Server message 0\n\n",
		"data: Server message 1\n\n",
		"data: Server message 2\n\n",
		"data: Server message 3\n\n",
		"data: Server message 4\n\n",
	}, drain(t, sess))
	assert.Equal(t, api.SessionClosed, sess.State())
	assert.Equal(t, api.CloseNormal, sess.Reason())
	assert.Equal(t, 0, m.Len())
}

func TestStreamNotFoundSendsErrorFrame(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {})
	sess := openSession(t, session.NewManager(), api.ProtocolSSE)

	res, err := d.Stream(sess.Context(), sess, codec.Input{Method: "GET", Path: "/nowhere"})
	require.NoError(t, err)
	assert.Equal(t, api.KindNotFound, res.ErrorKind)

	msgs := drain(t, sess)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "event: error\n")
	assert.Contains(t, msgs[0], `"type":"not_found"`)
	assert.Equal(t, api.CloseError, sess.Reason())
}

func TestStreamHandlerErrorIsFinalMessage(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolSSE, "/feed", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			if err := r.Emitter.Emit(ctx, "first"); err != nil {
				return nil, err
			}
			return nil, errors.New("upstream feed ended")
		}))
	})
	sess := openSession(t, session.NewManager(), api.ProtocolSSE)

	res, err := d.Stream(sess.Context(), sess, codec.Input{Method: "GET", Path: "/feed"})
	require.NoError(t, err)
	assert.Equal(t, api.KindHandler, res.ErrorKind)

	msgs := drain(t, sess)
	require.Len(t, msgs, 2)
	assert.Equal(t, "data: first\n\n", msgs[0])
	assert.Contains(t, msgs[1], "upstream feed ended")
}

func TestStreamStopsWhenSessionCloses(t *testing.T) {
	started := make(chan struct{})
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolSSE, "/forever", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	})
	sess := openSession(t, session.NewManager(), api.ProtocolSSE)

	done := make(chan *api.Result, 1)
	go func() {
		res, _ := d.Stream(sess.Context(), sess, codec.Input{Method: "GET", Path: "/forever"})
		done <- res
	}()

	<-started
	sess.Close(api.CloseRemote)

	select {
	case res := <-done:
		assert.Equal(t, api.KindCancelled, res.ErrorKind)
	case <-time.After(time.Second):
		t.Fatal("stream handler was not cancelled")
	}
	assert.Equal(t, api.CloseRemote, sess.Reason())
}

func TestDispatchFrameEnqueuesReply(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolWS, "/ws", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			return "You said: " + r.Envelope.Text(), nil
		}))
	})
	sess := openSession(t, session.NewManager(), api.ProtocolWS)

	for _, frame := range []string{"hello", "again"} {
		res, err := d.DispatchFrame(sess.Context(), sess, codec.Input{Path: "/ws", Body: []byte(frame)})
		require.NoError(t, err)
		assert.True(t, res.IsOK())
		assert.Equal(t, "/ws", res.Target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := sess.Next(ctx)
	require.NoError(t, err)
	second, err := sess.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "You said: hello", string(first))
	assert.Equal(t, "You said: again", string(second))
}

func TestDispatchFrameOnClosedSession(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolWS, "/ws", transport.HandlerFunc(pong))
	})
	sess := openSession(t, session.NewManager(), api.ProtocolWS)
	require.NoError(t, sess.Drain(api.CloseNormal))

	_, err := d.DispatchFrame(context.Background(), sess, codec.Input{Path: "/ws", Body: []byte("x")})
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestDispatchFrameBackpressure(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolWS, "/ws", transport.HandlerFunc(pong))
	})
	m := session.NewManager(session.WithProtocolConfig(api.ProtocolWS, session.Config{
		QueueSize: 1,
		Policy:    session.PolicyDropNewest,
	}))
	sess := openSession(t, m, api.ProtocolWS)

	_, err := d.DispatchFrame(context.Background(), sess, codec.Input{Path: "/ws", Body: []byte("1")})
	require.NoError(t, err)
	_, err = d.DispatchFrame(context.Background(), sess, codec.Input{Path: "/ws", Body: []byte("2")})
	assert.ErrorIs(t, err, api.ErrBackpressure)
	assert.Equal(t, 1, sess.Len())
}
