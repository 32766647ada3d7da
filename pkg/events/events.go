// Package events announces gateway activity to other services. Webhook
// deliveries are published to NATS on a global subject and on one
// subject per source.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Default subjects.
const (
	SubjectWebhook = "omnigate.webhook"
)

// WebhookReceived is published for every stored webhook delivery.
type WebhookReceived struct {
	DeliveryID string          `json:"deliveryId"`
	Source     string          `json:"source"`
	Event      string          `json:"event,omitempty"`
	Tenant     string          `json:"tenant,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Publisher announces webhook deliveries.
type Publisher interface {
	PublishWebhook(ctx context.Context, ev *WebhookReceived) error
}

// NoOpPublisher discards events. It is used when NATS is not configured.
type NoOpPublisher struct{}

// PublishWebhook does nothing.
func (NoOpPublisher) PublishWebhook(context.Context, *WebhookReceived) error { return nil }

// CallbackPublisher hands events to a function.
type CallbackPublisher struct {
	fn func(ctx context.Context, ev *WebhookReceived) error
}

// NewCallbackPublisher wraps fn as a Publisher.
func NewCallbackPublisher(fn func(ctx context.Context, ev *WebhookReceived) error) *CallbackPublisher {
	return &CallbackPublisher{fn: fn}
}

// PublishWebhook calls the callback.
func (p *CallbackPublisher) PublishWebhook(ctx context.Context, ev *WebhookReceived) error {
	return p.fn(ctx, ev)
}
