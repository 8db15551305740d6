package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(cooldown time.Duration, perMinute int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	limiter := New(
		WithCooldown(cooldown),
		WithPerMinuteLimit(perMinute),
		WithClock(clock.Now),
	)
	return limiter, clock
}

func TestLimiter_CooldownRejectsSecondCall(t *testing.T) {
	limiter, clock := newTestLimiter(2*time.Second, 10)

	allowed, _ := limiter.Check("user-1")
	require.True(t, allowed)

	clock.Advance(500 * time.Millisecond)
	allowed, hint := limiter.Check("user-1")
	assert.False(t, allowed)
	assert.Contains(t, hint, "wait")

	clock.Advance(2 * time.Second)
	allowed, _ = limiter.Check("user-1")
	assert.True(t, allowed)
}

func TestLimiter_PerMinuteLimit(t *testing.T) {
	limiter, clock := newTestLimiter(2*time.Second, 10)

	for i := 0; i < 10; i++ {
		allowed, hint := limiter.Check("user-1")
		require.True(t, allowed, "call %d should be allowed: %s", i+1, hint)
		clock.Advance(2 * time.Second)
	}

	// 11th call within the same minute window
	allowed, hint := limiter.Check("user-1")
	assert.False(t, allowed)
	assert.Contains(t, hint, "10/min")
}

func TestLimiter_WindowResetsAfterMinute(t *testing.T) {
	limiter, clock := newTestLimiter(0, 2)

	allowed, _ := limiter.Check("user-1")
	require.True(t, allowed)
	allowed, _ = limiter.Check("user-1")
	require.True(t, allowed)
	allowed, _ = limiter.Check("user-1")
	require.False(t, allowed)

	clock.Advance(61 * time.Second)
	allowed, _ = limiter.Check("user-1")
	assert.True(t, allowed)
}

func TestLimiter_UsersAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(5*time.Second, 10)

	allowed, _ := limiter.Check("user-1")
	require.True(t, allowed)

	// A different user is not affected by user-1's cooldown.
	allowed, _ = limiter.Check("user-2")
	assert.True(t, allowed)
}

func TestLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(time.Hour, 1)

	allowed, _ := limiter.Check("user-1")
	require.True(t, allowed)
	allowed, _ = limiter.Check("user-1")
	require.False(t, allowed)

	limiter.Reset("user-1")
	allowed, _ = limiter.Check("user-1")
	assert.True(t, allowed)
}

func TestLimiter_ResetAll(t *testing.T) {
	limiter, _ := newTestLimiter(time.Hour, 1)

	for i := 0; i < 3; i++ {
		userID := fmt.Sprintf("user-%d", i)
		allowed, _ := limiter.Check(userID)
		require.True(t, allowed)
		allowed, _ = limiter.Check(userID)
		require.False(t, allowed)
	}

	limiter.ResetAll()
	for i := 0; i < 3; i++ {
		allowed, _ := limiter.Check(fmt.Sprintf("user-%d", i))
		assert.True(t, allowed)
	}
}

func TestLimiter_RejectedCallDoesNotConsumeBudget(t *testing.T) {
	limiter, clock := newTestLimiter(10*time.Second, 100)

	allowed, _ := limiter.Check("user-1")
	require.True(t, allowed)

	// Rejected attempts during cooldown must not push the cooldown forward.
	clock.Advance(5 * time.Second)
	allowed, _ = limiter.Check("user-1")
	require.False(t, allowed)

	clock.Advance(5 * time.Second)
	allowed, _ = limiter.Check("user-1")
	assert.True(t, allowed)
}
