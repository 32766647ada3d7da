package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether an identity may submit more work.
type Limiter interface {
	Allow(ctx context.Context, id *Identity) error
}

// Tier is the token bucket of one service tier.
type Tier struct {
	// RequestsPerSecond is the refill rate. Zero or less means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// TokenBucketLimiter keeps one token bucket per subject and tier.
type TokenBucketLimiter struct {
	tiers    map[string]Tier
	fallback Tier
	idleTTL  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketLimiter creates a limiter. Identities whose tier is not in
// tiers use fallback.
func NewTokenBucketLimiter(tiers map[string]Tier, fallback Tier) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		tiers:    tiers,
		fallback: fallback,
		idleTTL:  10 * time.Minute,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow takes one token from the identity's bucket, or returns
// ErrRateLimited when it is empty.
func (l *TokenBucketLimiter) Allow(_ context.Context, id *Identity) error {
	tier := tierOf(id)
	cfg, ok := l.tiers[tier]
	if !ok {
		cfg = l.fallback
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}

	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	key := id.Subject + "\x00" + tier
	b, ok := l.buckets[key]
	if !ok {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	if !b.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Len returns the number of live buckets.
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops buckets idle for longer than idleTTL. Called with mu held.
func (l *TokenBucketLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) < l.idleTTL {
		return
	}
	l.swept = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, k)
		}
	}
}

func tierOf(id *Identity) string {
	if id.Tier == "" {
		return "default"
	}
	return id.Tier
}
