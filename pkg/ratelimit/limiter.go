package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultCooldown is the minimum gap between accepted messages per user.
	DefaultCooldown = 500 * time.Millisecond

	// DefaultPerMinuteLimit is the maximum accepted messages per user per minute.
	DefaultPerMinuteLimit = 50
)

// userState tracks throttling counters for a single user.
type userState struct {
	lastAccepted time.Time
	windowStart  time.Time
	windowCount  int
}

// Limiter throttles per-user message rates with a cooldown and a
// per-minute window. State is process-lifetime only.
type Limiter struct {
	cooldown       time.Duration
	perMinuteLimit int
	now            func() time.Time
	logger         zerolog.Logger

	mu    sync.Mutex
	users map[string]*userState
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCooldown overrides the per-message cooldown.
func WithCooldown(d time.Duration) Option {
	return func(l *Limiter) { l.cooldown = d }
}

// WithPerMinuteLimit overrides the per-minute message cap.
func WithPerMinuteLimit(n int) Option {
	return func(l *Limiter) { l.perMinuteLimit = n }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the limiter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger.With().Str("component", "ratelimit").Logger() }
}

// New creates a rate limiter with the given options.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		cooldown:       DefaultCooldown,
		perMinuteLimit: DefaultPerMinuteLimit,
		now:            time.Now,
		logger:         zerolog.Nop(),
		users:          make(map[string]*userState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check reports whether a message from the user is accepted right now.
// When rejected, the returned hint explains how long to wait.
// An accepted check consumes budget: it updates the cooldown stamp and
// increments the per-minute counter.
func (l *Limiter) Check(userID string) (bool, string) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.users[userID]
	if !ok {
		state = &userState{windowStart: now}
		l.users[userID] = state
	}

	if l.cooldown > 0 && !state.lastAccepted.IsZero() {
		sinceLast := now.Sub(state.lastAccepted)
		if sinceLast < l.cooldown {
			wait := l.cooldown - sinceLast
			return false, fmt.Sprintf("Please wait %.1fs before sending another message.", wait.Seconds())
		}
	}

	if now.Sub(state.windowStart) > time.Minute {
		state.windowStart = now
		state.windowCount = 0
	}

	if state.windowCount >= l.perMinuteLimit {
		l.logger.Debug().Str("user_id", userID).Int("count", state.windowCount).Msg("per-minute limit reached")
		return false, fmt.Sprintf("Rate limit reached (%d/min). Please wait.", l.perMinuteLimit)
	}

	state.lastAccepted = now
	state.windowCount++
	return true, ""
}

// Reset clears counters for a single user.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, userID)
}

// ResetAll clears counters for every user.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users = make(map[string]*userState)
}
