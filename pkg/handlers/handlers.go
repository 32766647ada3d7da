// Package handlers implements the gateway's endpoints: one greeting per
// protocol, the composite aggregation, the webhook receiver with its
// delivery log, and the GraphQL schema.
package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/events"
	"github.com/rhuss/omnigate/pkg/registry"
	"github.com/rhuss/omnigate/pkg/storage"
	"github.com/rhuss/omnigate/pkg/transport"
)

// Routing targets of the built-in endpoints.
const (
	TargetREST           = "GET /rest"
	TargetComposite      = "GET /composite"
	TargetWebhooks       = "GET /rest/webhooks"
	TargetDelivery       = "GET /rest/webhooks/delivery"
	TargetDeleteDelivery = "DELETE /rest/webhooks/delivery"
	TargetWebhook        = "POST /webhook"
	TargetSSE            = "/sse"
	TargetWS             = "/ws"
	TargetGraphQL        = "/graphql"
	MethodPing           = "ping"
	OperationHello       = "say_hello"
)

// Options wires the handlers to their dependencies.
type Options struct {
	// Store records webhook deliveries. Required.
	Store storage.DeliveryStore
	// Publisher announces webhook deliveries. Defaults to events.NoOpPublisher.
	Publisher events.Publisher
	// StreamInterval is the pause between SSE messages. Default 1s.
	StreamInterval time.Duration
	// CompositeTimeout bounds the composite fan-out. Default 5s.
	CompositeTimeout time.Duration
	Logger           *slog.Logger
}

// Register adds every endpoint to reg.
func Register(reg *registry.Registry, opts Options) error {
	if opts.Store == nil {
		return errors.New("handlers: a delivery store is required")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoOpPublisher{}
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = time.Second
	}
	if opts.CompositeTimeout <= 0 {
		opts.CompositeTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	gql, err := NewGraphQL()
	if err != nil {
		return err
	}
	webhooks := NewWebhooks(opts.Store, opts.Publisher, opts.Logger)

	return errors.Join(
		reg.Register(api.ProtocolREST, TargetREST, transport.HandlerFunc(Hello),
			registry.WithDescription("REST greeting")),
		reg.Register(api.ProtocolREST, TargetComposite, NewComposite(nil, nil),
			registry.WithTimeout(opts.CompositeTimeout),
			registry.WithDescription("user and orders aggregated concurrently")),
		reg.Register(api.ProtocolREST, TargetWebhooks, transport.HandlerFunc(webhooks.List),
			registry.WithDescription("recorded webhook deliveries")),
		reg.Register(api.ProtocolREST, TargetDelivery, transport.HandlerFunc(webhooks.Get),
			registry.WithDescription("one recorded webhook delivery")),
		reg.Register(api.ProtocolREST, TargetDeleteDelivery, transport.HandlerFunc(webhooks.Delete),
			registry.WithDescription("remove a recorded webhook delivery")),
		reg.Register(api.ProtocolWebhook, TargetWebhook, transport.HandlerFunc(webhooks.Receive),
			registry.WithDescription("webhook receiver")),
		reg.Register(api.ProtocolSSE, TargetSSE, &Countdown{Count: 5, Interval: opts.StreamInterval},
			registry.WithDescription("five server messages")),
		reg.Register(api.ProtocolWS, TargetWS, transport.HandlerFunc(Echo),
			registry.WithDescription("echo")),
		reg.Register(api.ProtocolRPC, MethodPing, transport.HandlerFunc(Ping),
			registry.WithDescription("JSON-RPC liveness")),
		reg.Register(api.ProtocolGraphQL, TargetGraphQL, gql,
			registry.WithDescription("GraphQL query endpoint")),
		RegisterSOAP(reg),
	)
}

// RegisterSOAP adds the SOAP operations. The standalone SOAP server
// registers only these.
func RegisterSOAP(reg *registry.Registry) error {
	return reg.Register(api.ProtocolSOAP, OperationHello, transport.HandlerFunc(SayHello),
		registry.WithDescription("SOAP greeting"))
}
