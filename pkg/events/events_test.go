package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/omnigate/internal/natstest"
)

func TestSourceSubject(t *testing.T) {
	tests := []struct{ source, want string }{
		{"github", "omnigate.webhook.github"},
		{"acme.billing", "omnigate.webhook.acme_billing"},
		{"a b>*", "omnigate.webhook.a_b__"},
		{"", "omnigate.webhook.unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SourceSubject(SubjectWebhook, tt.source))
	}
}

func TestCallbackAndNoOp(t *testing.T) {
	assert.NoError(t, NoOpPublisher{}.PublishWebhook(context.Background(), &WebhookReceived{}))

	boom := errors.New("boom")
	var got *WebhookReceived
	p := NewCallbackPublisher(func(_ context.Context, ev *WebhookReceived) error {
		got = ev
		return boom
	})
	ev := &WebhookReceived{DeliveryID: "whd_1"}
	assert.ErrorIs(t, p.PublishWebhook(context.Background(), ev), boom)
	assert.Same(t, ev, got)
}

func subscribe(t *testing.T, nc *nats.Conn, subject string) <-chan *WebhookReceived {
	t.Helper()
	ch := make(chan *WebhookReceived, 4)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev WebhookReceived
		if err := json.Unmarshal(msg.Data, &ev); err == nil {
			ch <- &ev
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return ch
}

func receive(t *testing.T, ch <-chan *WebhookReceived) *WebhookReceived {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestNATSPublisher(t *testing.T) {
	nc, _ := natstest.Start(t)

	global := subscribe(t, nc, "omnigate.webhook")
	perSource := subscribe(t, nc, "omnigate.webhook.github")
	wildcard := subscribe(t, nc, "omnigate.webhook.>")
	require.NoError(t, nc.Flush())

	p := NewNATSPublisher(nc, nil)
	ev := &WebhookReceived{
		DeliveryID: "whd_42",
		Source:     "github",
		Event:      "push",
		Payload:    json.RawMessage(`{"ref":"main"}`),
		ReceivedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, p.PublishWebhook(context.Background(), ev))
	require.NoError(t, nc.Flush())

	g := receive(t, global)
	assert.Equal(t, "whd_42", g.DeliveryID)
	assert.JSONEq(t, `{"ref":"main"}`, string(g.Payload))

	s := receive(t, perSource)
	assert.Equal(t, "push", s.Event)
	assert.True(t, ev.ReceivedAt.Equal(s.ReceivedAt))

	assert.Equal(t, "github", receive(t, wildcard).Source)
}

func TestNATSPublisherCustomSubject(t *testing.T) {
	nc, _ := natstest.Start(t)
	ch := subscribe(t, nc, "hooks.stripe")
	require.NoError(t, nc.Flush())

	p := NewNATSPublisher(nc, &NATSPublisherOpts{Subject: "hooks"})
	require.NoError(t, p.PublishWebhook(context.Background(), &WebhookReceived{DeliveryID: "whd_s", Source: "stripe"}))
	require.NoError(t, nc.Flush())

	assert.Equal(t, "whd_s", receive(t, ch).DeliveryID)
}
