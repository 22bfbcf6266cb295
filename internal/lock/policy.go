package lock

import (
	"time"

	"github.com/jmfairley/applock/internal/config"
)

// Policy computes lockout windows from consecutive failure counts. Pure
// functions over injected configuration; no hidden state.
type Policy struct {
	maxAttempts int
	base        time.Duration
	multiplier  int
}

// NewPolicy creates a Policy from the lock configuration.
func NewPolicy(cfg config.LockConfig) Policy {
	return Policy{
		maxAttempts: cfg.MaxFailedAttempts,
		base:        cfg.LockoutBaseDuration,
		multiplier:  cfg.LockoutMultiplier,
	}
}

// LockoutDuration returns the lockout window earned by failedAttempts
// consecutive failures: zero below the attempt limit, then
// base * multiplier^(floor(n/limit) - 1). With the defaults the 5th failure
// locks for 30s, the 10th for 60s, the 15th for 120s.
func (p Policy) LockoutDuration(failedAttempts int) time.Duration {
	if failedAttempts < p.maxAttempts {
		return 0
	}

	tier := failedAttempts/p.maxAttempts - 1
	duration := p.base
	for i := 0; i < tier; i++ {
		duration *= time.Duration(p.multiplier)
	}
	return duration
}

// IsLockedOut reports whether an unlock attempt must be rejected at now, and
// how long until the window closes. A past expiry means not locked out; the
// policy never mutates state (lazy expiry is the caller's concern).
func (p Policy) IsLockedOut(now time.Time, lockoutUntil *time.Time) (bool, time.Duration) {
	if lockoutUntil == nil || !now.Before(*lockoutUntil) {
		return false, 0
	}
	return true, lockoutUntil.Sub(now)
}
