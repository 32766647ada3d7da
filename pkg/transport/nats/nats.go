// Package nats serves JSON-RPC over NATS request/reply. Each request
// message runs through the same dispatcher as HTTP JSON-RPC, and the
// encoded JSON-RPC response is sent to the message's reply subject.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/dispatcher"
	"github.com/rhuss/omnigate/pkg/transport"
)

// Defaults for Config.
const (
	DefaultSubject      = "omnigate.rpc"
	DefaultQueueGroup   = "omnigate"
	DefaultDrainTimeout = 10 * time.Second
)

// Config selects what the server subscribes to.
type Config struct {
	Subject    string
	QueueGroup string
	// DrainTimeout bounds how long shutdown waits for messages already
	// delivered to the subscription.
	DrainTimeout time.Duration
}

// Server consumes JSON-RPC requests from a NATS subject.
type Server struct {
	nc     *nats.Conn
	d      *dispatcher.Dispatcher
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewServer creates a Server. It does not subscribe until Run.
func NewServer(nc *nats.Conn, d *dispatcher.Dispatcher, cfg Config, logger *slog.Logger) *Server {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = DefaultQueueGroup
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{nc: nc, d: d, cfg: cfg, logger: logger}
}

// Run subscribes and serves until ctx is done, then drains the
// subscription and waits for in-progress requests.
func (s *Server) Run(ctx context.Context) error {
	sub, err := s.nc.QueueSubscribe(s.cfg.Subject, s.cfg.QueueGroup, func(msg *nats.Msg) {
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.handle(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}
	s.logger.Info("nats rpc listener started",
		slog.String("subject", s.cfg.Subject),
		slog.String("queue_group", s.cfg.QueueGroup),
	)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		s.logger.Warn("nats drain failed", slog.String("error", err.Error()))
	} else {
		s.awaitDrain(sub)
	}
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("nats rpc listener stopped")
	return nil
}

// awaitDrain waits until the drained subscription has handed every pending
// message to the callback, which invalidates it.
func (s *Server) awaitDrain(sub *nats.Subscription) {
	deadline := time.Now().Add(s.cfg.DrainTimeout)
	for sub.IsValid() {
		if time.Now().After(deadline) {
			s.logger.Warn("nats drain timed out", slog.Duration("timeout", s.cfg.DrainTimeout))
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Server) handle(ctx context.Context, msg *nats.Msg) {
	// Requests in flight when shutdown begins still complete.
	ctx = context.WithoutCancel(ctx)

	debug.Payload(debug.NATS, "rpc request", msg.Data, "subject", msg.Subject)
	in := codec.Input{Method: "NATS", Path: msg.Subject, Body: msg.Data, Headers: headers(msg.Header)}
	if id := in.Headers["x-request-id"]; id != "" {
		ctx = transport.ContextWithRequestID(ctx, id)
	}

	reply, err := s.d.Dispatch(ctx, api.ProtocolRPC, in)
	if err != nil {
		s.logger.Error("nats dispatch failed", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
		return
	}
	if msg.Reply == "" {
		debug.Log(debug.NATS, "no reply subject, dropping response", "subject", msg.Subject)
		return
	}
	if err := msg.Respond(reply.Body); err != nil {
		s.logger.Warn("nats respond failed", slog.String("reply", msg.Reply), slog.String("error", err.Error()))
	}
}

func headers(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}
