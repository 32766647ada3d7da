// Package session tracks long-lived connections (WebSocket sessions and SSE
// subscriptions): their lifecycle state machine, their bounded outbound
// queues with backpressure, and idle reaping.
//
// A Session moves connecting -> open -> draining -> closed, or directly
// open -> closed on abrupt disconnect. Producers (handlers) put encoded
// frames on the queue with Enqueue; the transport's send loop takes them
// off with Next, in FIFO order.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/observability"
)

// ErrClosed is returned by Enqueue once a session stopped accepting
// messages (draining or closed) and by Next once it is closed.
var ErrClosed = errors.New("session closed")

// Session is one long-lived connection. All methods are safe for
// concurrent use.
type Session struct {
	id        string
	protocol  api.Protocol
	cfg       Config
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        api.SessionState
	reason       api.CloseReason
	queue        *queue.Queue
	changed      chan struct{} // closed and replaced on every state or queue change
	lastActivity time.Time
	dropped      int

	onClose func(*Session)
	now     func() time.Time
}

func newSession(parent context.Context, id string, protocol api.Protocol, cfg Config, now func() time.Time, onClose func(*Session)) *Session {
	ctx, cancel := context.WithCancel(parent)
	t := now()
	return &Session{
		id:           id,
		protocol:     protocol,
		cfg:          cfg,
		createdAt:    t,
		ctx:          ctx,
		cancel:       cancel,
		state:        api.SessionConnecting,
		queue:        queue.New(),
		changed:      make(chan struct{}),
		lastActivity: t,
		onClose:      onClose,
		now:          now,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Protocol returns the protocol the session runs over.
func (s *Session) Protocol() api.Protocol { return s.protocol }

// Context is cancelled when the session closes. Handlers tied to the
// session run under it and must observe it.
func (s *Session) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Session) State() api.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the close reason, or "" while the session is live.
func (s *Session) Reason() api.CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Len returns the number of queued outbound messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Length()
}

// Dropped returns how many messages the drop_oldest policy evicted.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// LastActivity returns the time of the last inbound or outbound message.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records activity, postponing idle reaping.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// Open completes the handshake: connecting -> open.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(api.SessionOpen); err != nil {
		return err
	}
	s.lastActivity = s.now()
	return nil
}

// transition validates and applies a state change. Callers hold s.mu.
func (s *Session) transition(to api.SessionState) error {
	if err := api.ValidateSessionTransition(s.state, to); err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	debug.Log(debug.Session, "state change", "session_id", s.id, "from", s.state, "to", to)
	s.state = to
	s.broadcast()
	return nil
}

// broadcast wakes every goroutine waiting on the session. Callers hold s.mu.
func (s *Session) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Enqueue appends an encoded outbound message. When the queue is full the
// session's policy applies:
//   - block waits for space until ctx is done or BlockTimeout elapses, then
//     fails with api.ErrBackpressure
//   - drop_oldest evicts the oldest message and accepts the new one
//   - drop_newest rejects the new message with api.ErrBackpressure
//
// Enqueue fails with ErrClosed once the session is draining or closed.
func (s *Session) Enqueue(ctx context.Context, msg []byte) error {
	s.mu.Lock()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if s.state == api.SessionDraining || s.state == api.SessionClosed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.queue.Length() < s.cfg.QueueSize {
			break
		}

		switch s.cfg.Policy {
		case PolicyDropNewest:
			s.mu.Unlock()
			observability.SessionDropsTotal.WithLabelValues(string(s.protocol), string(PolicyDropNewest)).Inc()
			return api.ErrBackpressure
		case PolicyDropOldest:
			s.queue.Remove()
			s.dropped++
			observability.SessionDropsTotal.WithLabelValues(string(s.protocol), string(PolicyDropOldest)).Inc()
			continue
		}

		if timer == nil {
			timer = time.NewTimer(s.cfg.BlockTimeout)
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("enqueue on session %s: %w", s.id, ctx.Err())
		case <-timer.C:
			debug.Log(debug.Session, "enqueue timed out", "session_id", s.id, "timeout", s.cfg.BlockTimeout)
			return api.ErrBackpressure
		}
		s.mu.Lock()
	}

	s.queue.Add(msg)
	s.lastActivity = s.now()
	s.broadcast()
	s.mu.Unlock()
	return nil
}

// Next removes and returns the oldest queued message, waiting until one is
// available. Once a draining session's queue is empty, Next completes the
// close and returns io.EOF. It returns ErrClosed if the session is closed.
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	for {
		if s.state == api.SessionClosed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if s.queue.Length() > 0 {
			msg := s.queue.Remove().([]byte)
			s.lastActivity = s.now()
			s.broadcast()
			s.mu.Unlock()
			return msg, nil
		}
		if s.state == api.SessionDraining {
			s.mu.Unlock()
			s.finish(s.Reason())
			return nil, io.EOF
		}

		changed := s.changed
		s.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			// The connection went away without an explicit Close.
			s.finish(api.CloseRemote)
			return nil, ErrClosed
		}
		s.mu.Lock()
	}
}

// Drain stops accepting new messages and lets the queue flush:
// open -> draining. The session closes with reason once Next has delivered
// every queued message. A session still connecting is closed immediately.
func (s *Session) Drain(reason api.CloseReason) error {
	s.mu.Lock()
	switch s.state {
	case api.SessionConnecting:
		s.mu.Unlock()
		s.finish(reason)
		return nil
	case api.SessionDraining, api.SessionClosed:
		s.mu.Unlock()
		return nil
	}
	s.reason = reason
	err := s.transition(api.SessionDraining)
	s.mu.Unlock()
	return err
}

// Close terminates the session immediately, discarding pending outbound
// messages and cancelling the session context. It reports whether this
// call performed the transition.
func (s *Session) Close(reason api.CloseReason) bool {
	return s.finish(reason)
}

func (s *Session) finish(reason api.CloseReason) bool {
	s.mu.Lock()
	if s.state == api.SessionClosed {
		s.mu.Unlock()
		return false
	}
	s.reason = reason
	s.state = api.SessionClosed
	s.queue = queue.New()
	s.broadcast()
	reason = s.reason
	s.mu.Unlock()

	s.cancel()
	debug.Log(debug.Session, "session closed", "session_id", s.id, "reason", reason)
	if s.onClose != nil {
		s.onClose(s)
	}
	return true
}

// idleSince reports whether the session saw no activity since cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != api.SessionClosed && s.lastActivity.Before(cutoff)
}

// Info is a point-in-time description of a session for listings.
type Info struct {
	ID           string           `json:"id"`
	Protocol     api.Protocol     `json:"protocol"`
	State        api.SessionState `json:"state"`
	Queued       int              `json:"queued"`
	Dropped      int              `json:"dropped"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActivity time.Time        `json:"last_activity"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		Protocol:     s.protocol,
		State:        s.state,
		Queued:       s.queue.Length(),
		Dropped:      s.dropped,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}
