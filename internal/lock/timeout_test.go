package lock

import (
	"testing"
	"time"

	"github.com/jmfairley/applock/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestIsSessionExpired(t *testing.T) {
	guard := NewTimeoutGuard(config.DefaultLockConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("never unlocked", func(t *testing.T) {
		assert.True(t, guard.IsSessionExpired(nil, now))
	})

	t.Run("within window", func(t *testing.T) {
		last := now.Add(-29 * time.Minute)
		assert.False(t, guard.IsSessionExpired(&last, now))
	})

	t.Run("at boundary", func(t *testing.T) {
		last := now.Add(-30 * time.Minute)
		assert.False(t, guard.IsSessionExpired(&last, now))
	})

	t.Run("expired", func(t *testing.T) {
		last := now.Add(-31 * time.Minute)
		assert.True(t, guard.IsSessionExpired(&last, now))
	})
}

func TestIsBackgroundExpired(t *testing.T) {
	guard := NewTimeoutGuard(config.DefaultLockConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("never backgrounded", func(t *testing.T) {
		assert.False(t, guard.IsBackgroundExpired(nil, now))
	})

	t.Run("brief background", func(t *testing.T) {
		at := now.Add(-2 * time.Minute)
		assert.False(t, guard.IsBackgroundExpired(&at, now))
	})

	t.Run("expired", func(t *testing.T) {
		at := now.Add(-4 * time.Minute)
		assert.True(t, guard.IsBackgroundExpired(&at, now))
	})
}
