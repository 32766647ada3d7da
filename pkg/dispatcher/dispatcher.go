// Package dispatcher is the single path every unit of work takes through
// the gateway, whatever protocol it arrived on:
//
//	decode -> route -> invoke -> encode -> send
//
// Decode failures are encoded as error Results without consulting the
// router. Invocations are gated by a concurrency limit with a bounded wait
// queue, run under a per-handler timeout, and have panics recovered, so
// timeout, error mapping and metrics behave the same for every protocol.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/observability"
	"github.com/rhuss/omnigate/pkg/registry"
	"github.com/rhuss/omnigate/pkg/router"
	"github.com/rhuss/omnigate/pkg/transport"
)

// Stage names used in logs and metrics.
const (
	StageDecode = "decode"
	StageRoute  = "route"
	StageInvoke = "invoke"
	StageEncode = "encode"
	StageSend   = "send"
)

// Reply is the encoded outcome of a request/response dispatch.
type Reply struct {
	Result      *api.Result
	Body        []byte
	ContentType string
	Codec       codec.Codec
}

// Dispatcher orchestrates decode, route, invoke and encode.
type Dispatcher struct {
	cfg        Config
	router     *router.Router
	codecs     *codec.Set
	sem        *semaphore.Weighted
	waiting    atomic.Int64
	inflight   *transport.InFlightRegistry
	middleware []transport.Middleware
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfig sets the concurrency and timeout limits.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) { d.cfg = cfg.withDefaults() }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithInFlightRegistry shares an in-flight registry, so invocations can be
// cancelled from outside (the admin endpoint).
func WithInFlightRegistry(r *transport.InFlightRegistry) Option {
	return func(d *Dispatcher) { d.inflight = r }
}

// WithMiddleware wraps every handler invocation. Recovery is always applied
// outermost, so a panicking middleware is contained too.
func WithMiddleware(mw ...transport.Middleware) Option {
	return func(d *Dispatcher) { d.middleware = append(d.middleware, mw...) }
}

// New creates a Dispatcher over a router and codec set.
func New(r *router.Router, codecs *codec.Set, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:      DefaultConfig(),
		router:   r,
		codecs:   codecs,
		inflight: transport.NewInFlightRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = semaphore.NewWeighted(int64(d.cfg.MaxInFlight))
	return d
}

// Router returns the router the dispatcher resolves handlers with.
func (d *Dispatcher) Router() *router.Router { return d.router }

// Codecs returns the codec set.
func (d *Dispatcher) Codecs() *codec.Set { return d.codecs }

// InFlight returns the in-flight invocation registry.
func (d *Dispatcher) InFlight() *transport.InFlightRegistry { return d.inflight }

// Dispatch runs one request/response unit of work and returns its single
// terminal Result, encoded. The returned error is non-nil only when no codec
// serves the protocol or when even the error Result cannot be encoded.
func (d *Dispatcher) Dispatch(ctx context.Context, protocol api.Protocol, in codec.Input) (*Reply, error) {
	c, ok := d.codecs.Get(protocol)
	if !ok {
		return nil, fmt.Errorf("dispatch: no codec for protocol %q", protocol)
	}
	ctx = ensureRequestID(ctx)

	res, data, err := d.process(ctx, c, in)
	if err != nil {
		return nil, err
	}
	return &Reply{Result: res, Body: data, ContentType: c.ContentType(), Codec: c}, nil
}

// process runs decode, route, invoke and encode for one request/response
// unit of work.
func (d *Dispatcher) process(ctx context.Context, c codec.Codec, in codec.Input) (*api.Result, []byte, error) {
	protocol := c.Protocol()
	debug.Payload(debug.Codec, "decoding request", in.Body, "protocol", protocol, "path", in.Path)

	start := time.Now()
	env, err := c.Decode(in)
	d.observeStage(protocol, StageDecode, start)
	if err != nil {
		res := decodeFailure(err)
		debug.Log(debug.Dispatch, "decode failed", "protocol", protocol, "request_id", transport.RequestIDFromContext(ctx), "error", err)
		return d.finish(ctx, c, res)
	}

	start = time.Now()
	entry, err := d.router.Resolve(env.Protocol(), env.Target())
	d.observeStage(protocol, StageRoute, start)
	if err != nil {
		return d.finish(ctx, c, api.Fail(api.AsError(err)).For(env))
	}

	for attempt := 0; ; attempt++ {
		res := d.invoke(ctx, entry, &transport.Request{Envelope: env}, d.cfg.HandlerTimeout).For(env)

		start = time.Now()
		data, err := c.Encode(res)
		d.observeStage(protocol, StageEncode, start)
		if err == nil {
			d.count(protocol, res)
			return res, data, nil
		}

		if codec.IsTransient(err) && attempt < d.cfg.EncodeRetries {
			observability.EncodeRetriesTotal.WithLabelValues(string(protocol)).Inc()
			debug.Log(debug.Dispatch, "transient encode failure, re-invoking handler",
				"protocol", protocol, "target", env.Target(), "attempt", attempt+1, "error", err)
			continue
		}

		d.logger.LogAttrs(ctx, slog.LevelError, "encode failed",
			slog.String("request_id", transport.RequestIDFromContext(ctx)),
			slog.String("protocol", string(protocol)),
			slog.String("target", env.Target()),
			slog.String("error", err.Error()),
		)
		return d.finish(ctx, c, api.Fail(api.NewInternalError("response could not be encoded")).For(env))
	}
}

// finish encodes a Result that did not come from a handler (decode, route
// or encode failures).
func (d *Dispatcher) finish(ctx context.Context, c codec.Codec, res *api.Result) (*api.Result, []byte, error) {
	data, err := c.Encode(res)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s error result: %w", c.Protocol(), err)
	}
	d.count(c.Protocol(), res)
	return res, data, nil
}

// decodeFailure turns a codec error into an error Result, keeping the
// correlation id the codec recovered.
func decodeFailure(err error) *api.Result {
	apiErr := api.AsError(err)
	if apiErr.Kind == api.KindHandler {
		// A codec returned an unclassified error.
		apiErr = api.NewDecodeError("malformed", err.Error())
	}
	res := api.Fail(apiErr)
	res.CorrelationID = apiErr.CorrelationID
	return res
}

type outcome struct {
	body any
	err  error
}

// invoke runs the handler of entry under the concurrency limit and a
// timeout. It never returns nil.
func (d *Dispatcher) invoke(ctx context.Context, entry *registry.Entry, req *transport.Request, defaultTimeout time.Duration) *api.Result {
	protocol := req.Envelope.Protocol()

	if res := d.acquire(ctx); res != nil {
		return res
	}
	observability.InFlight.Inc()

	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestID := transport.RequestIDFromContext(ctx)
	remove := d.inflight.Register(transport.Invocation{
		RequestID: requestID,
		Protocol:  protocol,
		Target:    req.Envelope.Target(),
		SessionID: req.Envelope.SessionID(),
	}, cancel)
	defer remove()

	h := d.wrap(entry.Handler)
	done := make(chan outcome, 1)
	start := time.Now()

	// The slot is released when the handler actually returns, not when the
	// dispatcher gives up waiting, so abandoned handlers still count
	// against MaxInFlight.
	go func() {
		defer func() {
			d.sem.Release(1)
			observability.InFlight.Dec()
		}()
		body, err := h.Handle(hctx, req)
		done <- outcome{body: body, err: err}
	}()

	var res *api.Result
	select {
	case o := <-done:
		res = d.mapOutcome(ctx, hctx, o)
	case <-hctx.Done():
		res = api.Fail(interruption(ctx, hctx))
		d.logger.LogAttrs(ctx, slog.LevelWarn, "handler interrupted",
			slog.String("request_id", requestID),
			slog.String("protocol", string(protocol)),
			slog.String("target", req.Envelope.Target()),
			slog.Duration("timeout", timeout),
			slog.String("kind", string(res.ErrorKind)),
		)
	}
	d.observeStage(protocol, StageInvoke, start)
	return res
}

// acquire obtains a concurrency slot, waiting in the bounded queue when
// none is free. It returns a non-nil Result when the work must be rejected.
func (d *Dispatcher) acquire(ctx context.Context) *api.Result {
	if d.sem.TryAcquire(1) {
		return nil
	}

	if d.waiting.Add(1) > int64(d.cfg.MaxQueued) {
		d.waiting.Add(-1)
		debug.Log(debug.Dispatch, "rejecting work, wait queue full", "max_queued", d.cfg.MaxQueued)
		return api.Fail(api.ErrOverload)
	}
	observability.Queued.Inc()
	defer func() {
		d.waiting.Add(-1)
		observability.Queued.Dec()
	}()

	qctx, cancel := context.WithTimeout(ctx, d.cfg.QueueTimeout)
	defer cancel()
	if err := d.sem.Acquire(qctx, 1); err != nil {
		if ctx.Err() != nil {
			return api.Fail(api.ErrCancelled)
		}
		return api.Fail(api.ErrOverload)
	}
	return nil
}

// wrap applies Recovery and the configured middleware to a handler.
func (d *Dispatcher) wrap(h transport.Handler) transport.Handler {
	chain := append([]transport.Middleware{transport.Recovery()}, d.middleware...)
	return transport.Chain(chain...)(h)
}

// mapOutcome converts what a handler returned into a Result.
func (d *Dispatcher) mapOutcome(ctx, hctx context.Context, o outcome) *api.Result {
	if o.err == nil {
		return api.OK(o.body)
	}
	if errors.Is(o.err, context.DeadlineExceeded) || errors.Is(o.err, context.Canceled) {
		if hctx.Err() != nil {
			return api.Fail(interruption(ctx, hctx))
		}
	}
	return api.Fail(api.AsError(o.err))
}

// interruption classifies why a handler context ended: the caller went away
// (or the session closed), the deadline passed, or the invocation was
// cancelled explicitly.
func interruption(ctx, hctx context.Context) *api.Error {
	switch {
	case ctx.Err() != nil:
		return api.ErrCancelled
	case errors.Is(hctx.Err(), context.DeadlineExceeded):
		return api.ErrTimeout
	default:
		return api.ErrCancelled
	}
}

func (d *Dispatcher) observeStage(p api.Protocol, stage string, start time.Time) {
	observability.StageDuration.WithLabelValues(string(p), stage).Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) count(p api.Protocol, res *api.Result) {
	label := "ok"
	if !res.IsOK() {
		label = string(res.ErrorKind)
	}
	observability.DispatchTotal.WithLabelValues(string(p), label).Inc()
}

// ensureRequestID makes sure ctx carries a request id for logs and the
// in-flight registry.
func ensureRequestID(ctx context.Context) context.Context {
	if transport.RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return transport.ContextWithRequestID(ctx, api.NewRequestID())
}
