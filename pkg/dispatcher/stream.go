package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/session"
	"github.com/rhuss/omnigate/pkg/transport"
)

// Stream runs a server-push subscription (SSE) on an open Session. The
// handler receives an Emitter whose messages are encoded and enqueued on
// the Session under its backpressure policy. When the handler returns, a
// non-nil body or an error becomes the final message and the Session is
// drained, so the transport's send loop ends after flushing it.
//
// Stream blocks until the handler returns and reports the terminal Result.
func (d *Dispatcher) Stream(ctx context.Context, sess *session.Session, in codec.Input) (*api.Result, error) {
	c, ok := d.codecs.Get(sess.Protocol())
	if !ok {
		return nil, fmt.Errorf("stream: no codec for protocol %q", sess.Protocol())
	}
	ctx = ensureRequestID(ctx)
	in.SessionID = sess.ID()
	protocol := c.Protocol()

	start := time.Now()
	env, err := c.Decode(in)
	d.observeStage(protocol, StageDecode, start)
	if err != nil {
		return d.terminate(ctx, sess, c, decodeFailure(err))
	}

	start = time.Now()
	entry, err := d.router.Resolve(env.Protocol(), env.Target())
	d.observeStage(protocol, StageRoute, start)
	if err != nil {
		return d.terminate(ctx, sess, c, api.Fail(api.AsError(err)).For(env))
	}

	emitter := transport.EmitterFunc(func(ectx context.Context, body any) error {
		data, err := c.Encode(api.OK(body).For(env))
		if err != nil {
			return fmt.Errorf("encode stream message: %w", err)
		}
		return sess.Enqueue(ectx, data)
	})

	debug.Log(debug.Dispatch, "stream started", "session_id", sess.ID(), "target", env.Target())
	res := d.invoke(ctx, entry, &transport.Request{Envelope: env, Emitter: emitter}, d.cfg.StreamTimeout).For(env)
	if res.IsOK() && res.Body == nil {
		d.count(protocol, res)
		return res, sess.Drain(api.CloseNormal)
	}
	return d.terminate(ctx, sess, c, res)
}

// terminate enqueues a final Result on the session and drains it.
func (d *Dispatcher) terminate(ctx context.Context, sess *session.Session, c codec.Codec, res *api.Result) (*api.Result, error) {
	d.count(c.Protocol(), res)

	reason := api.CloseNormal
	if !res.IsOK() {
		reason = api.CloseError
	}

	data, err := c.Encode(res)
	if err != nil {
		sess.Close(api.CloseError)
		return res, fmt.Errorf("encode final %s message: %w", c.Protocol(), err)
	}

	start := time.Now()
	if err := sess.Enqueue(ctx, data); err != nil {
		debug.Log(debug.Dispatch, "final message not delivered", "session_id", sess.ID(), "error", err)
	}
	d.observeStage(c.Protocol(), StageSend, start)
	return res, sess.Drain(reason)
}

// DispatchFrame handles one inbound frame of a bidirectional Session
// (WebSocket). The frame runs through decode, route, invoke and encode
// like a request, and the encoded reply is enqueued on the Session. Frames
// of one Session are expected to be dispatched sequentially by the read
// loop, which keeps replies in order.
//
// The returned error reports a reply that could not be enqueued, such as
// api.ErrBackpressure under a drop policy or session.ErrClosed.
func (d *Dispatcher) DispatchFrame(ctx context.Context, sess *session.Session, in codec.Input) (*api.Result, error) {
	c, ok := d.codecs.Get(sess.Protocol())
	if !ok {
		return nil, fmt.Errorf("dispatch frame: no codec for protocol %q", sess.Protocol())
	}
	ctx = transport.ContextWithRequestID(ctx, api.NewRequestID())
	in.SessionID = sess.ID()
	sess.Touch()

	res, data, err := d.process(ctx, c, in)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = sess.Enqueue(ctx, data)
	d.observeStage(c.Protocol(), StageSend, start)
	if err != nil {
		return res, fmt.Errorf("enqueue reply on session %s: %w", sess.ID(), err)
	}
	return res, nil
}
