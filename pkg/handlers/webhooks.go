package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/events"
	"github.com/rhuss/omnigate/pkg/observability"
	"github.com/rhuss/omnigate/pkg/storage"
	"github.com/rhuss/omnigate/pkg/transport"
)

// DefaultSource names deliveries posted without a source.
const DefaultSource = "default"

// eventHeaders name the delivery's event type, first match wins.
var eventHeaders = []string{"x-webhook-event", "x-github-event", "x-event-type"}

// Header values never recorded with a delivery.
var secretHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"x-api-key":     true,
}

// WebhookAck is the response to an accepted delivery.
type WebhookAck struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Webhooks records and announces webhook deliveries.
type Webhooks struct {
	store     storage.DeliveryStore
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewWebhooks creates the webhook handlers.
func NewWebhooks(store storage.DeliveryStore, publisher events.Publisher, logger *slog.Logger) *Webhooks {
	return &Webhooks{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// deliveryID derives the delivery id from the tenant and request id, so a
// handler re-invocation or a client retry with the same X-Request-ID
// records the delivery once. Tenants reusing a request id do not collide.
func deliveryID(tenant, requestID string) string {
	if requestID == "" {
		return storage.NewDeliveryID()
	}
	sum := sha256.Sum256([]byte(tenant + "\x00" + requestID))
	return "whd_" + hex.EncodeToString(sum[:16])
}

// Receive stores the delivery, publishes it and acknowledges with the
// payload.
func (h *Webhooks) Receive(ctx context.Context, req *transport.Request) (any, error) {
	env := req.Envelope
	source := env.Header("x-webhook-source")
	if source == "" {
		source = DefaultSource
	}

	requestID := transport.RequestIDFromContext(ctx)
	d := &storage.Delivery{
		ID:         deliveryID(storage.GetTenant(ctx), requestID),
		Source:     source,
		Event:      eventType(env),
		Payload:    env.Payload(),
		Headers:    recordedHeaders(env.Headers()),
		RequestID:  requestID,
		ReceivedAt: h.now().UTC(),
	}

	err := h.store.Save(ctx, d)
	switch {
	case errors.Is(err, storage.ErrConflict):
		h.logger.DebugContext(ctx, "webhook delivery already recorded",
			slog.String("delivery_id", d.ID),
			slog.String("source", source),
		)
	case err != nil:
		return nil, fmt.Errorf("recording webhook delivery: %w", err)
	default:
		observability.WebhookDeliveriesTotal.WithLabelValues(source).Inc()
		h.publish(ctx, d)
	}

	return WebhookAck{Status: "received", Data: d.Payload}, nil
}

// publish announces a stored delivery. The delivery is already durable,
// so a publish failure is logged and not returned.
func (h *Webhooks) publish(ctx context.Context, d *storage.Delivery) {
	ev := &events.WebhookReceived{
		DeliveryID: d.ID,
		Source:     d.Source,
		Event:      d.Event,
		Tenant:     storage.GetTenant(ctx),
		Payload:    d.Payload,
		ReceivedAt: d.ReceivedAt,
	}
	if err := h.publisher.PublishWebhook(ctx, ev); err != nil {
		h.logger.WarnContext(ctx, "webhook event not published",
			slog.String("delivery_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
}

func eventType(env *api.Envelope) string {
	for _, name := range eventHeaders {
		if v := env.Header(name); v != "" {
			return v
		}
	}
	return ""
}

func recordedHeaders(h map[string]string) map[string]string {
	for name := range h {
		if secretHeaders[name] || strings.HasPrefix(name, "x-hub-signature") {
			delete(h, name)
		}
	}
	return h
}

// listParams are the query parameters of GET /rest/webhooks.
type listParams struct {
	Source string `json:"source"`
	After  string `json:"after"`
	Limit  string `json:"limit"`
	Order  string `json:"order"`
}

// List pages through recorded deliveries, newest first unless order=asc.
func (h *Webhooks) List(ctx context.Context, req *transport.Request) (any, error) {
	var p listParams
	if err := req.Envelope.Bind(&p); err != nil {
		return nil, err
	}

	opts := storage.ListOptions{Source: p.Source, After: p.After, Order: p.Order}
	if p.Limit != "" {
		n, err := strconv.Atoi(p.Limit)
		if err != nil || n < 0 {
			return nil, api.NewDecodeError("invalid_limit", "limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	switch opts.Order {
	case "", "asc", "desc":
	default:
		return nil, api.NewDecodeError("invalid_order", `order must be "asc" or "desc"`)
	}

	list, err := h.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing webhook deliveries: %w", err)
	}
	return list, nil
}

// deliveryParams address one delivery: ?id=whd_...
type deliveryParams struct {
	ID string `json:"id"`
}

func bindDeliveryID(req *transport.Request) (string, error) {
	var p deliveryParams
	if err := req.Envelope.Bind(&p); err != nil {
		return "", err
	}
	if p.ID == "" {
		return "", api.NewDecodeError("missing_id", "id is required")
	}
	return p.ID, nil
}

// Get returns one recorded delivery of the caller's tenant.
func (h *Webhooks) Get(ctx context.Context, req *transport.Request) (any, error) {
	id, err := bindDeliveryID(req)
	if err != nil {
		return nil, err
	}
	d, err := h.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, api.NotFoundf("webhook delivery %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading webhook delivery: %w", err)
	}
	return d, nil
}

// DeliveryDeleted acknowledges a removed delivery.
type DeliveryDeleted struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Delete removes one recorded delivery of the caller's tenant.
func (h *Webhooks) Delete(ctx context.Context, req *transport.Request) (any, error) {
	id, err := bindDeliveryID(req)
	if err != nil {
		return nil, err
	}
	err = h.store.Delete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, api.NotFoundf("webhook delivery %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("deleting webhook delivery: %w", err)
	}
	return DeliveryDeleted{ID: id, Deleted: true}, nil
}
