package session

import (
	"fmt"
	"time"
)

// Policy selects what Enqueue does when a session's outbound queue is full.
type Policy string

const (
	// PolicyBlock makes the producer wait for space, up to BlockTimeout.
	PolicyBlock Policy = "block"
	// PolicyDropOldest evicts the oldest queued message to make room.
	PolicyDropOldest Policy = "drop_oldest"
	// PolicyDropNewest rejects the new message with api.ErrBackpressure.
	PolicyDropNewest Policy = "drop_newest"
)

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyBlock, PolicyDropOldest, PolicyDropNewest:
		return p, nil
	case "":
		return PolicyBlock, nil
	default:
		return "", fmt.Errorf("unknown backpressure policy %q", s)
	}
}

// Config holds the per-session-type limits.
type Config struct {
	// QueueSize is the capacity of the outbound queue.
	QueueSize int
	// Policy applies when the queue is full.
	Policy Policy
	// BlockTimeout bounds how long PolicyBlock waits for space.
	BlockTimeout time.Duration
	// IdleTimeout closes sessions without activity for this long. Zero
	// disables idle reaping.
	IdleTimeout time.Duration
}

// DefaultConfig returns the limits used when no per-protocol configuration
// is given.
func DefaultConfig() Config {
	return Config{
		QueueSize:    64,
		Policy:       PolicyBlock,
		BlockTimeout: 5 * time.Second,
		IdleTimeout:  5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Policy == "" {
		c.Policy = d.Policy
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = d.BlockTimeout
	}
	return c
}
