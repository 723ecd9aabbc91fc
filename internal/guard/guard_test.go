package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

// --- RateLimiter Tests ---

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := rl.Check(ctx, "10.0.0.1")
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	ctx := context.Background()

	rl.Check(ctx, "10.0.0.1")
	rl.Check(ctx, "10.0.0.1")
	result := rl.Check(ctx, "10.0.0.1")

	assert.False(t, result.Allowed)
	assert.Equal(t, "rate_limiter", result.Guard)
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ctx := context.Background()

	assert.True(t, rl.Check(ctx, "10.0.0.1").Allowed)
	assert.True(t, rl.Check(ctx, "10.0.0.2").Allowed)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(1, time.Minute)
	rl.now = clock.now
	ctx := context.Background()

	require.True(t, rl.Check(ctx, "ip").Allowed)
	require.False(t, rl.Check(ctx, "ip").Allowed)

	clock.advance(61 * time.Second)
	assert.True(t, rl.Check(ctx, "ip").Allowed)
}

func TestRateLimiter_ZeroLimitDisables(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Check(context.Background(), "ip").Allowed)
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(5, time.Minute)
	rl.now = clock.now

	rl.Check(context.Background(), "a")
	rl.Check(context.Background(), "b")
	clock.advance(30 * time.Second)
	rl.Check(context.Background(), "b")
	clock.advance(45 * time.Second)

	assert.Equal(t, 1, rl.Sweep())
}

// --- CircuitBreaker Tests ---

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second)
	assert.True(t, cb.Check(context.Background(), "api.gateway.test").Allowed)
	assert.Equal(t, CircuitClosed, cb.State("api.gateway.test"))
}

func TestCircuitBreaker_OpensOnThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)
	ctx := context.Background()

	cb.RecordFailure("host")
	assert.True(t, cb.Check(ctx, "host").Allowed)
	cb.RecordFailure("host")

	result := cb.Check(ctx, "host")
	assert.False(t, result.Allowed)
	assert.Equal(t, "circuit_breaker", result.Guard)
	assert.Equal(t, CircuitOpen, cb.State("host"))
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)
	ctx := context.Background()

	cb.RecordFailure("host")
	cb.RecordSuccess("host")
	cb.RecordFailure("host")

	assert.True(t, cb.Check(ctx, "host").Allowed)
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	clock := newClock()
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = clock.now
	ctx := context.Background()

	cb.RecordFailure("host")
	require.False(t, cb.Check(ctx, "host").Allowed)

	clock.advance(11 * time.Second)
	assert.True(t, cb.Check(ctx, "host").Allowed, "first probe after cooldown")
	assert.Equal(t, CircuitHalfOpen, cb.State("host"))
	assert.False(t, cb.Check(ctx, "host").Allowed, "second concurrent probe")

	cb.RecordSuccess("host")
	assert.Equal(t, CircuitClosed, cb.State("host"))
	assert.True(t, cb.Check(ctx, "host").Allowed)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := newClock()
	cb := NewCircuitBreaker(3, 10*time.Second)
	cb.now = clock.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.RecordFailure("host")
	}
	clock.advance(11 * time.Second)
	require.True(t, cb.Check(ctx, "host").Allowed)

	cb.RecordFailure("host")
	assert.Equal(t, CircuitOpen, cb.State("host"))
	assert.False(t, cb.Check(ctx, "host").Allowed)
}

// --- IdempotencyGuard Tests ---

func TestIdempotencyGuard_AllowsFirst(t *testing.T) {
	ig := NewIdempotencyGuard(time.Minute)
	assert.True(t, ig.Check(context.Background(), "pay_123").Allowed)
}

func TestIdempotencyGuard_BlocksInFlightDuplicate(t *testing.T) {
	ig := NewIdempotencyGuard(time.Minute)
	ctx := context.Background()

	ig.Check(ctx, "pay_123")
	result := ig.Check(ctx, "pay_123")

	assert.False(t, result.Allowed)
	assert.Equal(t, "idempotency", result.Guard)
}

func TestIdempotencyGuard_EmptyKeyAllowed(t *testing.T) {
	ig := NewIdempotencyGuard(time.Minute)
	ctx := context.Background()

	assert.True(t, ig.Check(ctx, "").Allowed)
	assert.True(t, ig.Check(ctx, "").Allowed)
}

func TestIdempotencyGuard_ReleaseAllowsRetry(t *testing.T) {
	ig := NewIdempotencyGuard(time.Minute)
	ctx := context.Background()

	ig.Check(ctx, "pay_123")
	ig.Release("pay_123")
	assert.True(t, ig.Check(ctx, "pay_123").Allowed)
}

func TestIdempotencyGuard_EntryExpires(t *testing.T) {
	clock := newClock()
	ig := NewIdempotencyGuard(time.Minute)
	ig.now = clock.now
	ctx := context.Background()

	ig.Check(ctx, "pay_123")
	clock.advance(2 * time.Minute)
	assert.True(t, ig.Check(ctx, "pay_123").Allowed)
}
