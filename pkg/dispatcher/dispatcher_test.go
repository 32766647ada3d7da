package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/registry"
	"github.com/rhuss/omnigate/pkg/router"
	"github.com/rhuss/omnigate/pkg/transport"
)

func newDispatcher(t *testing.T, cfg Config, register func(reg *registry.Registry), codecs ...codec.Codec) *Dispatcher {
	t.Helper()
	reg := registry.New()
	register(reg)
	if len(codecs) == 0 {
		return New(router.New(reg), codec.Default(codec.Options{}), WithConfig(cfg))
	}
	return New(router.New(reg), codec.NewSet(codecs...), WithConfig(cfg))
}

func rpcInput(body string) codec.Input {
	return codec.Input{Method: "POST", Path: "/rpc", Body: []byte(body)}
}

func pong(context.Context, *transport.Request) (any, error) { return "pong", nil }

func TestDispatchPing(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(pong))
	})

	reply, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"ping","id":7}`))
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","result":"pong","id":7}`, string(reply.Body))
	assert.Equal(t, "application/json", reply.ContentType)
	assert.True(t, reply.Result.IsOK())
}

func TestDispatchMissingMethodNeverRoutes(t *testing.T) {
	var invoked atomic.Int32
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			invoked.Add(1)
			return "pong", nil
		}))
	})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing method echoes id", `{"id":3}`, `{"jsonrpc":"2.0","error":"Method not found","id":3}`},
		{"missing method null id", `{"params":{}}`, `{"jsonrpc":"2.0","error":"Method not found","id":null}`},
		{"string id", `{"id":"abc","method":""}`, `{"jsonrpc":"2.0","error":"Method not found","id":"abc"}`},
		{"unknown method", `{"method":"nope","id":4}`, `{"jsonrpc":"2.0","error":"Method not found","id":4}`},
		{"parse error", `{"method":`, `{"jsonrpc":"2.0","error":"Parse error","id":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(reply.Body))
			assert.False(t, reply.Result.IsOK())
		})
	}
	assert.Equal(t, int32(0), invoked.Load())
}

func TestDispatchDecodeErrorKind(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {})

	reply, err := d.Dispatch(context.Background(), api.ProtocolREST, codec.Input{Method: "POST", Path: "/rest", Body: []byte("{")})
	require.NoError(t, err)
	assert.Equal(t, api.KindDecode, reply.Result.ErrorKind)
	assert.JSONEq(t, `{"error":{"type":"decode","code":"malformed","message":"request body is not valid JSON"}}`, string(reply.Body))
}

func TestDispatchNotFound(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolREST, "GET /rest", transport.HandlerFunc(pong))
	})

	reply, err := d.Dispatch(context.Background(), api.ProtocolREST, codec.Input{Method: "GET", Path: "/missing"})
	require.NoError(t, err)
	assert.Equal(t, api.KindNotFound, reply.Result.ErrorKind)
	assert.Equal(t, "GET /missing", reply.Result.Target)
}

func TestDispatchUnknownProtocol(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {}, codec.NewJSONRPC())
	_, err := d.Dispatch(context.Background(), api.ProtocolSOAP, codec.Input{})
	assert.Error(t, err)
}

func TestHandlerTimeoutDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	d := newDispatcher(t, Config{MaxInFlight: 4}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "slow", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			// Ignores cancellation on purpose: a misbehaving handler.
			<-release
			return "late", nil
		}), registry.WithTimeout(200*time.Millisecond))
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(pong))
	})

	var wg sync.WaitGroup
	var slow *Reply
	wg.Add(1)
	go func() {
		defer wg.Done()
		slow, _ = d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"slow","id":1}`))
	}()

	// While the slow handler runs, other invocations complete promptly.
	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	fast, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"ping","id":2}`))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, fast.Result.IsOK())

	wg.Wait()
	require.NotNil(t, slow)
	assert.Equal(t, api.StatusError, slow.Result.Status)
	assert.Equal(t, api.KindTimeout, slow.Result.ErrorKind)
	assert.True(t, slow.Result.Retryable())
	assert.Equal(t, `{"jsonrpc":"2.0","error":"handler exceeded its time limit","id":1}`, string(slow.Body))
}

func TestHandlerObservingDeadlineYieldsTimeout(t *testing.T) {
	d := newDispatcher(t, Config{HandlerTimeout: 20 * time.Millisecond}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "wait", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	})

	reply, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"wait","id":1}`))
	require.NoError(t, err)
	assert.Equal(t, api.KindTimeout, reply.Result.ErrorKind)
}

func TestOverloadWhenQueueFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	d := newDispatcher(t, Config{MaxInFlight: 1, MaxQueued: 0}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "hold", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			close(started)
			<-release
			return "done", nil
		}))
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(pong))
	})

	done := make(chan *Reply, 1)
	go func() {
		reply, _ := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"hold","id":1}`))
		done <- reply
	}()
	<-started

	reply, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"ping","id":2}`))
	require.NoError(t, err)
	assert.Equal(t, api.KindOverload, reply.Result.ErrorKind)
	assert.True(t, reply.Result.Retryable())

	close(release)
	assert.True(t, (<-done).Result.IsOK())
}

func TestQueuedWorkRunsWhenSlotFrees(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	d := newDispatcher(t, Config{MaxInFlight: 1, MaxQueued: 1, QueueTimeout: time.Second}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "hold", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			close(started)
			<-release
			return "done", nil
		}))
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(pong))
	})

	go d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"hold","id":1}`))
	<-started

	queued := make(chan *Reply, 1)
	go func() {
		reply, _ := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"ping","id":2}`))
		queued <- reply
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case reply := <-queued:
		assert.True(t, reply.Result.IsOK())
	case <-time.After(time.Second):
		t.Fatal("queued work never ran")
	}
}

func TestQueueTimeoutYieldsOverload(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	d := newDispatcher(t, Config{MaxInFlight: 1, MaxQueued: 4, QueueTimeout: 20 * time.Millisecond}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "hold", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			close(started)
			<-release
			return "done", nil
		}))
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(pong))
	})

	go d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"hold","id":1}`))
	<-started

	reply, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"ping","id":2}`))
	require.NoError(t, err)
	assert.Equal(t, api.KindOverload, reply.Result.ErrorKind)
}

func TestHandlerErrors(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolREST, "GET /plain", transport.HandlerFunc(func(context.Context, *transport.Request) (any, error) {
			return nil, errors.New("inventory offline")
		}))
		reg.MustRegister(api.ProtocolREST, "GET /typed", transport.HandlerFunc(func(context.Context, *transport.Request) (any, error) {
			return nil, api.NotFoundf("order 9 not found")
		}))
		reg.MustRegister(api.ProtocolREST, "GET /panic", transport.HandlerFunc(func(context.Context, *transport.Request) (any, error) {
			panic("nil map")
		}))
	})

	tests := []struct {
		path     string
		wantKind api.ErrorKind
		wantMsg  string
	}{
		{"/plain", api.KindHandler, "inventory offline"},
		{"/typed", api.KindNotFound, "order 9 not found"},
		{"/panic", api.KindInternal, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			reply, err := d.Dispatch(context.Background(), api.ProtocolREST, codec.Input{Method: "GET", Path: tt.path})
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, reply.Result.ErrorKind)
			assert.Equal(t, tt.wantMsg, reply.Result.Message)
		})
	}
}

// flakyCodec fails the first n encodes with a transient error.
type flakyCodec struct {
	codec.Codec
	failures atomic.Int32
	hard     bool
}

func (f *flakyCodec) Encode(res *api.Result) ([]byte, error) {
	if f.failures.Add(-1) >= 0 {
		if f.hard {
			return nil, errors.New("unsupported body")
		}
		return nil, fmt.Errorf("flush frame: %w", codec.ErrTransient)
	}
	return f.Codec.Encode(res)
}

func TestTransientEncodeRetryIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	flaky := &flakyCodec{Codec: codec.NewJSONRPC()}
	flaky.failures.Store(2)

	d := newDispatcher(t, Config{EncodeRetries: 2}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			calls.Add(1)
			return "pong", nil
		}))
	}, flaky)

	reply, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"ping","id":7}`))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "handler re-invoked once per transient failure")

	// The retried outcome is the one an undisturbed dispatch produces.
	clean := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(pong))
	}, codec.NewJSONRPC())
	want, err := clean.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"ping","id":7}`))
	require.NoError(t, err)
	assert.Equal(t, string(want.Body), string(reply.Body))
}

func TestTransientEncodeRetriesExhausted(t *testing.T) {
	flaky := &flakyCodec{Codec: codec.NewJSONRPC()}
	flaky.failures.Store(2)

	d := newDispatcher(t, Config{EncodeRetries: 1}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(pong))
	}, flaky)

	reply, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"ping","id":7}`))
	require.NoError(t, err)
	assert.Equal(t, api.KindInternal, reply.Result.ErrorKind)
	assert.Equal(t, `{"jsonrpc":"2.0","error":"response could not be encoded","id":7}`, string(reply.Body))
}

func TestPermanentEncodeFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	flaky := &flakyCodec{Codec: codec.NewJSONRPC(), hard: true}
	flaky.failures.Store(1)

	d := newDispatcher(t, Config{EncodeRetries: 3}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			calls.Add(1)
			return "pong", nil
		}))
	}, flaky)

	reply, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"ping","id":1}`))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, api.KindInternal, reply.Result.ErrorKind)
}

func TestHandlerFailuresNeverRetried(t *testing.T) {
	var calls atomic.Int32
	d := newDispatcher(t, Config{EncodeRetries: 5}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "fail", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			calls.Add(1)
			return nil, errors.New("boom")
		}))
	})

	reply, err := d.Dispatch(context.Background(), api.ProtocolRPC, rpcInput(`{"method":"fail","id":1}`))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, api.KindHandler, reply.Result.ErrorKind)
}

func TestCancelInFlight(t *testing.T) {
	started := make(chan struct{})
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "wait", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	})

	ctx := transport.ContextWithRequestID(context.Background(), "req-cancel-me")
	done := make(chan *Reply, 1)
	go func() {
		reply, _ := d.Dispatch(ctx, api.ProtocolRPC, rpcInput(`{"method":"wait","id":1}`))
		done <- reply
	}()

	<-started
	running := d.InFlight().Snapshot()
	require.Len(t, running, 1)
	assert.Equal(t, "req-cancel-me", running[0].RequestID)
	assert.Equal(t, api.ProtocolRPC, running[0].Protocol)
	assert.Equal(t, "wait", running[0].Target)
	assert.True(t, d.InFlight().Cancel("req-cancel-me"))

	reply := <-done
	assert.Equal(t, api.KindCancelled, reply.Result.ErrorKind)
	assert.Equal(t, 0, d.InFlight().Len())
}

func TestCallerCancellation(t *testing.T) {
	d := newDispatcher(t, Config{}, func(reg *registry.Registry) {
		reg.MustRegister(api.ProtocolRPC, "wait", transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	reply, err := d.Dispatch(ctx, api.ProtocolRPC, rpcInput(`{"method":"wait","id":1}`))
	require.NoError(t, err)
	assert.Equal(t, api.KindCancelled, reply.Result.ErrorKind)
}

func TestMiddlewareApplied(t *testing.T) {
	var seen []string
	mw := func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, r *transport.Request) (any, error) {
			seen = append(seen, transport.RequestIDFromContext(ctx))
			return next.Handle(ctx, r)
		})
	}

	reg := registry.New()
	reg.MustRegister(api.ProtocolRPC, "ping", transport.HandlerFunc(pong))
	d := New(router.New(reg), codec.Default(codec.Options{}), WithMiddleware(mw))

	ctx := transport.ContextWithRequestID(context.Background(), "req-42")
	_, err := d.Dispatch(ctx, api.ProtocolRPC, rpcInput(`{"method":"ping","id":1}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"req-42"}, seen)
}
