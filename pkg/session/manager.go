package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/observability"
)

// Manager owns the live session table. Insert and remove take the
// table-level lock; each Session guards its own state with a per-session
// lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	defaults     Config
	configs      map[api.Protocol]Config
	maxSessions  int
	reapInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultConfig sets the limits for protocols without their own Config.
func WithDefaultConfig(cfg Config) Option {
	return func(m *Manager) { m.defaults = cfg.withDefaults() }
}

// WithProtocolConfig sets the limits for one session type.
func WithProtocolConfig(p api.Protocol, cfg Config) Option {
	return func(m *Manager) { m.configs[p] = cfg.withDefaults() }
}

// WithMaxSessions caps the number of live sessions. Create fails with
// api.ErrOverload beyond it. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.maxSessions = n }
}

// WithReapInterval sets how often Run scans for idle sessions.
func WithReapInterval(d time.Duration) Option {
	return func(m *Manager) { m.reapInterval = d }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty session table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:     make(map[string]*Session),
		defaults:     DefaultConfig(),
		configs:      make(map[api.Protocol]Config),
		reapInterval: 10 * time.Second,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConfigFor returns the effective limits for a session type.
func (m *Manager) ConfigFor(p api.Protocol) Config {
	if cfg, ok := m.configs[p]; ok {
		return cfg
	}
	return m.defaults
}

// Create registers a new session in the connecting state. The session
// context derives from ctx, typically the connection's request context.
func (m *Manager) Create(ctx context.Context, p api.Protocol) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, api.ErrOverload
	}

	s := newSession(ctx, api.NewSessionID(), p, m.ConfigFor(p), m.now, m.remove)
	m.sessions[s.id] = s
	observability.SessionsActive.WithLabelValues(string(p)).Inc()
	debug.Log(debug.Session, "session created", "session_id", s.id, "protocol", p)
	return s, nil
}

// remove drops a closed session from the table. It is the sessions'
// onClose callback.
func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.id]
	delete(m.sessions, s.id)
	m.mu.Unlock()

	if !ok {
		return
	}
	reason := s.Reason()
	observability.SessionsActive.WithLabelValues(string(s.protocol)).Dec()
	observability.SessionsClosedTotal.WithLabelValues(string(s.protocol), string(reason)).Inc()
	m.logger.Info("session closed",
		slog.String("session_id", s.id),
		slog.String("protocol", string(s.protocol)),
		slog.String("reason", string(reason)),
	)
}

// Get looks up a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close closes a live session by id. It reports whether the session existed.
func (m *Manager) Close(id string, reason api.CloseReason) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.Close(reason)
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot describes every live session, ordered by id.
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.ID, b.ID) })
	return infos
}

// Reap closes every session idle beyond its type's IdleTimeout with reason
// timeout and returns how many were closed.
func (m *Manager) Reap() int {
	now := m.now()

	m.mu.RLock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.cfg.IdleTimeout <= 0 {
			continue
		}
		if s.idleSince(now.Add(-s.cfg.IdleTimeout)) {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	closed := 0
	for _, s := range idle {
		if s.Close(api.CloseTimeout) {
			closed++
		}
	}
	if closed > 0 {
		debug.Log(debug.Session, "reaped idle sessions", "count", closed)
	}
	return closed
}

// Run reaps idle sessions every reap interval until ctx is done. It always
// returns nil so it can run in an errgroup next to the listener.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Shutdown closes every live session with reason shutdown.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	for _, s := range list {
		s.Close(api.CloseShutdown)
	}
}
