package dispatcher

import "time"

// Config bounds the dispatcher's resource use.
type Config struct {
	// MaxInFlight is the number of handler invocations allowed to run
	// concurrently.
	MaxInFlight int
	// MaxQueued is how many units of work may wait for a slot. Beyond it,
	// work is rejected with api.ErrOverload.
	MaxQueued int
	// QueueTimeout bounds the wait for a slot.
	QueueTimeout time.Duration
	// HandlerTimeout is the default execution bound for request/response
	// handlers without a per-handler timeout.
	HandlerTimeout time.Duration
	// StreamTimeout is the default execution bound for streaming handlers.
	StreamTimeout time.Duration
	// EncodeRetries is how often a handler is re-invoked after a transient
	// encode failure.
	EncodeRetries int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:    64,
		MaxQueued:      128,
		QueueTimeout:   2 * time.Second,
		HandlerTimeout: 30 * time.Second,
		StreamTimeout:  10 * time.Minute,
		EncodeRetries:  2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.MaxQueued < 0 {
		c.MaxQueued = 0
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = d.QueueTimeout
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = d.HandlerTimeout
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = d.StreamTimeout
	}
	if c.EncodeRetries < 0 {
		c.EncodeRetries = 0
	}
	return c
}
