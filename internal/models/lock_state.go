package models

import "time"

// LockMethod selects which unlock path the UI offers by default.
type LockMethod string

const (
	LockMethodNone      LockMethod = "none"
	LockMethodBiometric LockMethod = "biometric"
	LockMethodPin       LockMethod = "pin"
)

// LockState is the authoritative persisted record for one profile's lock.
// The personal profile carries the full struct; business profiles are PIN-only
// and leave Method at LockMethodPin.
type LockState struct {
	Method         LockMethod
	LastUnlockAt   *time.Time
	FailedAttempts int
	LockoutUntil   *time.Time
	BackgroundedAt *time.Time
}

// IsLockoutActive reports whether a lockout window is still open at now.
// A past LockoutUntil is treated as absent (lazy expiry, never eagerly cleaned).
func (s *LockState) IsLockoutActive(now time.Time) bool {
	return s.LockoutUntil != nil && now.Before(*s.LockoutUntil)
}

// RemainingLockout returns how long the open lockout window has left, zero when
// no lockout is active.
func (s *LockState) RemainingLockout(now time.Time) time.Duration {
	if s.LockoutUntil == nil {
		return 0
	}
	remaining := s.LockoutUntil.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClearFailures resets the failure bookkeeping after a successful unlock.
func (s *LockState) ClearFailures() {
	s.FailedAttempts = 0
	s.LockoutUntil = nil
}
