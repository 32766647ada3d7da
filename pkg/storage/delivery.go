package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Delivery is one webhook call received by the gateway.
type Delivery struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	Event      string            `json:"event,omitempty"`
	Payload    json.RawMessage   `json:"payload"`
	Headers    map[string]string `json:"headers,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// NewDeliveryID returns a fresh delivery id ("whd_" + 32 hex characters).
func NewDeliveryID() string {
	return "whd_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ListOptions selects and pages deliveries.
type ListOptions struct {
	Source string // only deliveries from this source
	After  string // cursor: deliveries after this id in list order
	Limit  int    // default 20, max 100
	Order  string // "asc" or "desc" (default) by receive time
}

// Page bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// EffectiveLimit clamps Limit to [1, MaxLimit], defaulting to DefaultLimit.
func (o ListOptions) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultLimit
	case o.Limit > MaxLimit:
		return MaxLimit
	default:
		return o.Limit
	}
}

// Ascending reports whether the list runs oldest first.
func (o ListOptions) Ascending() bool { return o.Order == "asc" }

// DeliveryList is one page of deliveries.
type DeliveryList struct {
	Object  string      `json:"object"`
	Data    []*Delivery `json:"data"`
	HasMore bool        `json:"has_more"`
	FirstID string      `json:"first_id,omitempty"`
	LastID  string      `json:"last_id,omitempty"`
}

// NewDeliveryList builds a page from up to limit+1 matches.
func NewDeliveryList(matches []*Delivery, limit int) *DeliveryList {
	l := &DeliveryList{Object: "list", Data: matches}
	if len(l.Data) > limit {
		l.Data = l.Data[:limit]
		l.HasMore = true
	}
	if len(l.Data) > 0 {
		l.FirstID = l.Data[0].ID
		l.LastID = l.Data[len(l.Data)-1].ID
	}
	if l.Data == nil {
		l.Data = []*Delivery{}
	}
	return l
}

// DeliveryStore persists webhook deliveries.
type DeliveryStore interface {
	Save(ctx context.Context, d *Delivery) error
	Get(ctx context.Context, id string) (*Delivery, error)
	List(ctx context.Context, opts ListOptions) (*DeliveryList, error)
	Delete(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
	Close() error
}
