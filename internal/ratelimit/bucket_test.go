package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestLimiterUnseenBucketStartsFull(t *testing.T) {
	clock, _ := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(Config{TokensPerInterval: 25, Interval: time.Minute, MaxTokens: 50}, WithLimiterClock(clock))

	require.InDelta(t, 50.0, limiter.Remaining("fresh"), 1e-9)
	require.True(t, limiter.TryConsume("fresh", 50))
	require.InDelta(t, 0.0, limiter.Remaining("fresh"), 1e-9)
}

func TestLimiterRefillAfterExhaustion(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(Config{TokensPerInterval: 25, Interval: time.Minute, MaxTokens: 50}, WithLimiterClock(clock))

	require.True(t, limiter.TryConsume("b", 50))
	require.False(t, limiter.TryConsume("b", 1))

	// 2400ms at 25 tokens per minute refills exactly one token.
	advance(2400 * time.Millisecond)
	require.True(t, limiter.TryConsume("b", 1))
	require.False(t, limiter.TryConsume("b", 1))
}

func TestLimiterRefillCapsAtMaxTokens(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(Config{TokensPerInterval: 25, Interval: time.Minute, MaxTokens: 50}, WithLimiterClock(clock))

	require.True(t, limiter.TryConsume("b", 10))
	advance(time.Hour)
	require.InDelta(t, 50.0, limiter.Remaining("b"), 1e-9)
}

func TestLimiterWaitTime(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(Config{TokensPerInterval: 60, Interval: time.Minute, MaxTokens: 60}, WithLimiterClock(clock))

	require.Zero(t, limiter.WaitTime("b", 1))

	require.True(t, limiter.TryConsume("b", 60))
	wait := limiter.WaitTime("b", 1)
	require.Equal(t, time.Second, wait)

	// The hint never increases while the clock advances.
	for i := 0; i < 4; i++ {
		advance(200 * time.Millisecond)
		next := limiter.WaitTime("b", 1)
		require.LessOrEqual(t, next, wait)
		wait = next
	}
	advance(200 * time.Millisecond)
	require.Zero(t, limiter.WaitTime("b", 1))
	require.True(t, limiter.TryConsume("b", 1))
}

func TestLimiterBucketsAreIndependent(t *testing.T) {
	clock, _ := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(Config{TokensPerInterval: 2, Interval: time.Minute, MaxTokens: 2}, WithLimiterClock(clock))

	require.True(t, limiter.TryConsume("a", 2))
	require.False(t, limiter.TryConsume("a", 1))
	require.True(t, limiter.TryConsume("b", 1))
}

func TestLimiterReset(t *testing.T) {
	clock, _ := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(Config{TokensPerInterval: 5, Interval: time.Minute, MaxTokens: 5}, WithLimiterClock(clock))

	require.True(t, limiter.TryConsume("a", 5))
	require.True(t, limiter.TryConsume("b", 5))
	require.False(t, limiter.TryConsume("a", 1))

	limiter.Reset("a")
	require.True(t, limiter.TryConsume("a", 1))
	require.False(t, limiter.TryConsume("b", 1))

	limiter.ResetAll()
	require.True(t, limiter.TryConsume("b", 1))
}

func TestLimiterDefaults(t *testing.T) {
	limiter := NewLimiter(Config{})
	cfg := limiter.Config()
	require.Equal(t, time.Minute, cfg.Interval)
	require.InDelta(t, 60.0, cfg.TokensPerInterval, 1e-9)
	require.InDelta(t, 60.0, cfg.MaxTokens, 1e-9)
}
