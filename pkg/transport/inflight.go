package transport

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/omnigate/pkg/api"
)

// Invocation describes a running handler invocation.
type Invocation struct {
	RequestID string       `json:"request_id"`
	Protocol  api.Protocol `json:"protocol"`
	Target    string       `json:"target"`
	SessionID string       `json:"session_id,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

type inflightEntry struct {
	inv    Invocation
	cancel context.CancelFunc
}

// InFlightRegistry tracks running handler invocations by request id so an
// operator can list them and cancel one that is stuck. Two invocations
// sharing a request id (a retried webhook racing its original) are both
// tracked; Cancel stops all of them.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string][]*inflightEntry
}

// NewInFlightRegistry creates an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{entries: make(map[string][]*inflightEntry)}
}

// Register records a started invocation. The returned func removes it
// again without cancelling and must be called when the handler returns.
func (r *InFlightRegistry) Register(inv Invocation, cancel context.CancelFunc) (remove func()) {
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now()
	}
	e := &inflightEntry{inv: inv, cancel: cancel}

	r.mu.Lock()
	r.entries[inv.RequestID] = append(r.entries[inv.RequestID], e)
	r.mu.Unlock()

	return func() { r.remove(e) }
}

func (r *InFlightRegistry) remove(e *inflightEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := e.inv.RequestID
	list := slices.DeleteFunc(r.entries[id], func(x *inflightEntry) bool { return x == e })
	if len(list) == 0 {
		delete(r.entries, id)
		return
	}
	r.entries[id] = list
}

// Cancel cancels every invocation running under requestID. It reports
// false when none is running.
func (r *InFlightRegistry) Cancel(requestID string) bool {
	r.mu.Lock()
	list := r.entries[requestID]
	delete(r.entries, requestID)
	r.mu.Unlock()

	for _, e := range list {
		e.cancel()
	}
	return len(list) > 0
}

// Len returns the number of running invocations.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, list := range r.entries {
		n += len(list)
	}
	return n
}

// Snapshot lists the running invocations, oldest first.
func (r *InFlightRegistry) Snapshot() []Invocation {
	r.mu.Lock()
	out := make([]Invocation, 0, len(r.entries))
	for _, list := range r.entries {
		for _, e := range list {
			out = append(out, e.inv)
		}
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Invocation) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.RequestID, b.RequestID)
	})
	return out
}
