package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedCounter is a cross-instance ceiling consulted after the in-memory
// global bucket permits. Implementations must be safe for concurrent use.
type SharedCounter interface {
	Take(ctx context.Context, n int64) (allowed bool, wait time.Duration, err error)
}

// SharedConfig configures the Redis-backed counter. The counter is a
// deployment-topology option: bucket state stays in-memory and
// authoritative within one instance, and the shared window only adds a
// hard ceiling across instances.
type SharedConfig struct {
	RedisURL       string
	MaxPerInterval int64
	Interval       time.Duration
	Prefix         string
	ConnectTimeout time.Duration
}

func (c SharedConfig) withDefaults() SharedConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxPerInterval <= 0 {
		c.MaxPerInterval = 60
	}
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = "pressgate:ratelimit"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

// RedisCounter implements SharedCounter with a fixed window: one INCR'd key
// per window, expiring shortly after the window closes.
type RedisCounter struct {
	client *redis.Client
	cfg    SharedConfig
	clock  func() time.Time
}

// RedisCounterOption configures a RedisCounter.
type RedisCounterOption func(*RedisCounter)

// WithCounterClock overrides the time source, primarily for tests.
func WithCounterClock(clock func() time.Time) RedisCounterOption {
	return func(r *RedisCounter) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRedisCounter connects to Redis and verifies the connection before
// returning the counter.
func NewRedisCounter(ctx context.Context, cfg SharedConfig, opts ...RedisCounterOption) (*RedisCounter, error) {
	cfg = cfg.withDefaults()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	counter := &RedisCounter{
		client: client,
		cfg:    cfg,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(counter)
	}
	return counter, nil
}

// Take increments the current window's counter by n. The take is allowed
// while the window total stays at or under MaxPerInterval; otherwise the
// wait hint is the time until the window rolls over.
func (r *RedisCounter) Take(ctx context.Context, n int64) (bool, time.Duration, error) {
	now := r.clock()
	intervalMs := r.cfg.Interval.Milliseconds()
	window := now.UnixMilli() / intervalMs
	key := fmt.Sprintf("%s:%s:%d", r.cfg.Prefix, GlobalBucketID, window)

	pipe := r.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, r.cfg.Interval+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("shared counter take: %w", err)
	}

	if incr.Val() <= r.cfg.MaxPerInterval {
		return true, 0, nil
	}

	windowEnd := time.UnixMilli((window + 1) * intervalMs)
	return false, windowEnd.Sub(now), nil
}

// Ping verifies the Redis connection without consuming window budget.
func (r *RedisCounter) Ping(ctx context.Context) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis counter not initialized")
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (r *RedisCounter) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
