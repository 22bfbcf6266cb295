package lock

import (
	"time"

	"github.com/jmfairley/applock/internal/config"
)

// TimeoutGuard decides when an unlocked session must revert to locked, based
// on in-app inactivity and on time spent outside the foreground.
type TimeoutGuard struct {
	session    time.Duration
	background time.Duration
}

func NewTimeoutGuard(cfg config.LockConfig) TimeoutGuard {
	return TimeoutGuard{
		session:    cfg.SessionTimeout,
		background: cfg.BackgroundTimeout,
	}
}

// IsSessionExpired reports whether in-app inactivity has exceeded the session
// timeout. A profile that has never unlocked is always expired.
func (g TimeoutGuard) IsSessionExpired(lastUnlockAt *time.Time, now time.Time) bool {
	if lastUnlockAt == nil {
		return true
	}
	return now.Sub(*lastUnlockAt) > g.session
}

// IsBackgroundExpired reports whether the app spent longer than the background
// timeout outside the foreground. Never backgrounded means not expired.
func (g TimeoutGuard) IsBackgroundExpired(backgroundedAt *time.Time, now time.Time) bool {
	if backgroundedAt == nil {
		return false
	}
	return now.Sub(*backgroundedAt) > g.background
}
