package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/rhuss/omnigate/pkg/debug"
)

// NATSPublisherOpts configures a NATSPublisher. Zero values use defaults.
type NATSPublisherOpts struct {
	// Subject is the global webhook subject. Per-source events go to
	// "<Subject>.<source>".
	Subject string
}

// NATSPublisher publishes events to NATS subjects.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher on nc. opts may be nil.
func NewNATSPublisher(nc *nats.Conn, opts *NATSPublisherOpts) *NATSPublisher {
	subject := SubjectWebhook
	if opts != nil && opts.Subject != "" {
		subject = opts.Subject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

// PublishWebhook publishes ev to the per-source subject and then to the
// global subject.
func (p *NATSPublisher) PublishWebhook(_ context.Context, ev *WebhookReceived) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}

	for _, subject := range []string{SourceSubject(p.subject, ev.Source), p.subject} {
		if err := p.nc.Publish(subject, data); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}
	debug.Log(debug.NATS, "webhook event published", "delivery_id", ev.DeliveryID, "source", ev.Source)
	return nil
}

// SourceSubject returns the per-source subject below base. Characters that
// are not valid in a NATS subject token are replaced with "_".
func SourceSubject(base, source string) string {
	if source == "" {
		source = "unknown"
	}
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, source)
	return base + "." + token
}
