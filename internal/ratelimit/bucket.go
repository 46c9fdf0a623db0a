// Package ratelimit provides the token-bucket limiters gating outbound
// upstream calls: a generic lazily-refilled bucket map, the coordinator
// applying the hard-global/soft-per-credential policy, and an optional
// Redis-backed cross-instance ceiling.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config describes one limiter's refill behavior. Every bucket created by
// that limiter shares it.
type Config struct {
	TokensPerInterval float64
	Interval          time.Duration
	MaxTokens         float64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.TokensPerInterval <= 0 {
		c.TokensPerInterval = 60
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = c.TokensPerInterval
	}
	return c
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter is a map of token buckets keyed by bucket id. Buckets refill
// lazily on access as a pure function of elapsed time; there is no
// background ticking, so a limiter is safe in short-lived processes.
type Limiter struct {
	cfg   Config
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimiterClock overrides the time source, primarily for tests.
func WithLimiterClock(clock func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewLimiter creates a limiter with the given refill config.
func NewLimiter(cfg Config, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		cfg:     cfg.withDefaults(),
		clock:   func() time.Time { return time.Now().UTC() },
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// refresh returns the bucket for id with lazy refill applied, creating it
// full if unseen. Caller must hold l.mu.
func (l *Limiter) refresh(id string) *bucket {
	now := l.clock()

	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{tokens: l.cfg.MaxTokens, lastRefill: now}
		l.buckets[id] = b
		return b
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return b
	}

	b.tokens += float64(elapsed) / float64(l.cfg.Interval) * l.cfg.TokensPerInterval
	if b.tokens > l.cfg.MaxTokens {
		b.tokens = l.cfg.MaxTokens
	}
	b.lastRefill = now
	return b
}

// TryConsume takes n tokens from the bucket if available. On insufficient
// tokens the bucket state is left unchanged and false is returned.
func (l *Limiter) TryConsume(id string, n float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refresh(id)
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Remaining reports the bucket's current token count without consuming.
func (l *Limiter) Remaining(id string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refresh(id).tokens
}

// WaitTime reports how long until n tokens are available at the configured
// refill rate, or zero if they already are.
func (l *Limiter) WaitTime(id string, n float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refresh(id)
	if b.tokens >= n {
		return 0
	}
	deficit := n - b.tokens
	// Round up so that waiting the full hint always suffices.
	return time.Duration(math.Ceil(deficit / l.cfg.TokensPerInterval * float64(l.cfg.Interval)))
}

// Reset clears one bucket; the next access recreates it full.
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, id)
}

// ResetAll clears every bucket.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}

// Config returns the limiter's refill configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}
