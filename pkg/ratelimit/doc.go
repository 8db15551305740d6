// Package ratelimit throttles per-user message rates with a cooldown
// and a per-minute window.
//
// Invariants:
// - Rejected checks consume no budget.
// - Counters live in process memory only and reset on restart.
//
// Usage:
//
//	limiter := ratelimit.New()
//	allowed, hint := limiter.Check("42")
//	_ = allowed
//	_ = hint
package ratelimit
