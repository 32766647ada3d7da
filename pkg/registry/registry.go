// Package registry holds the process-wide table of handlers keyed by
// protocol and target. It is populated once at startup and then frozen;
// handlers are only ever looked up through a router.Router.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/transport"
)

// ErrFrozen is returned by Register after Freeze has been called.
var ErrFrozen = errors.New("registry is frozen")

// Key identifies a handler by protocol class and target (path or method).
type Key struct {
	Protocol api.Protocol
	Target   string
}

// String renders the key as "protocol target".
func (k Key) String() string {
	return string(k.Protocol) + " " + k.Target
}

// Entry is one registered handler with its invocation options.
type Entry struct {
	Key         Key
	Handler     transport.Handler
	Timeout     time.Duration // zero means the dispatcher default
	Description string
}

// Option configures an Entry at registration time.
type Option func(*Entry)

// WithTimeout bounds the execution time of this handler, overriding the
// dispatcher default.
func WithTimeout(d time.Duration) Option {
	return func(e *Entry) { e.Timeout = d }
}

// WithDescription attaches a human-readable description shown by the admin
// route listing.
func WithDescription(s string) Option {
	return func(e *Entry) { e.Description = s }
}

// Registry is the startup-time handler table.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	frozen  bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[Key]*Entry)}
}

// Register adds a handler for (protocol, target). A second registration of
// the same pair fails with api.ErrDuplicate.
func (r *Registry) Register(protocol api.Protocol, target string, h transport.Handler, opts ...Option) error {
	if !protocol.Valid() {
		return fmt.Errorf("register %q: unknown protocol %q", target, protocol)
	}
	if h == nil {
		return fmt.Errorf("register %s %s: nil handler", protocol, target)
	}

	key := Key{Protocol: protocol, Target: target}
	entry := &Entry{Key: key, Handler: h}
	for _, opt := range opts {
		opt(entry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %s: %w", key, ErrFrozen)
	}
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("register %s: %w", key, api.ErrDuplicate)
	}
	r.entries[key] = entry
	return nil
}

// MustRegister is like Register but panics on error. A duplicate
// registration is a startup misconfiguration the process must not survive.
func (r *Registry) MustRegister(protocol api.Protocol, target string, h transport.Handler, opts ...Option) {
	if err := r.Register(protocol, target, h, opts...); err != nil {
		panic(err)
	}
}

// Freeze prevents further registrations and returns a copy of the table.
// Calling Freeze more than once returns the same contents.
func (r *Registry) Freeze() map[Key]*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true

	out := make(map[Key]*Entry, len(r.entries))
	for k, e := range r.entries {
		out[k] = e
	}
	return out
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
