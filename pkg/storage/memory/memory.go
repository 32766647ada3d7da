// Package memory keeps webhook deliveries in process memory. Contents are
// lost on restart. With a size bound, the oldest deliveries are evicted
// first.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/storage"
)

type entry struct {
	d      *storage.Delivery
	tenant string
	elem   *list.Element
}

// Store is an in-memory storage.DeliveryStore.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   *list.List // front = newest
	maxSize int        // 0 = unlimited
}

var _ storage.DeliveryStore = (*Store)(nil)

// New creates a store holding at most maxSize deliveries (0 = unlimited).
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Save records d. A missing id or receive time is filled in.
func (s *Store) Save(ctx context.Context, d *storage.Delivery) error {
	if d.ID == "" {
		d.ID = storage.NewDeliveryID()
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[d.ID]; ok {
		return storage.ErrConflict
	}
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	s.entries[d.ID] = &entry{d: d, tenant: storage.GetTenant(ctx), elem: s.order.PushFront(d.ID)}
	return nil
}

// Get returns the delivery with id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.d, nil
}

// Delete removes the delivery with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return storage.ErrNotFound
	}
	s.order.Remove(e.elem)
	delete(s.entries, id)
	return nil
}

// List returns one page of deliveries ordered by receive time.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.DeliveryList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant := storage.GetTenant(ctx)
	var matches []*storage.Delivery
	for _, e := range s.entries {
		if tenant != "" && e.tenant != tenant {
			continue
		}
		if opts.Source != "" && e.d.Source != opts.Source {
			continue
		}
		matches = append(matches, e.d)
	}

	asc := opts.Ascending()
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			if asc {
				return a.ReceivedAt.Before(b.ReceivedAt)
			}
			return a.ReceivedAt.After(b.ReceivedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if opts.After != "" {
		idx := -1
		for i, d := range matches {
			if d.ID == opts.After {
				idx = i
				break
			}
		}
		matches = matches[idx+1:]
		if idx < 0 {
			matches = nil
		}
	}

	limit := opts.EffectiveLimit()
	if len(matches) > limit+1 {
		matches = matches[:limit+1]
	}
	return storage.NewDeliveryList(matches, limit), nil
}

// Len returns the number of stored deliveries across tenants.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) lookup(ctx context.Context, id string) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if tenant := storage.GetTenant(ctx); tenant != "" && e.tenant != tenant {
		return nil, false
	}
	return e, true
}

// evictOldest drops the oldest delivery. Called with mu held.
func (s *Store) evictOldest() {
	back := s.order.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.order.Remove(back)
	delete(s.entries, id)
	debug.Log(debug.Storage, "evicted delivery", "id", id)
}
