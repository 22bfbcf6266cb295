package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Lock.MaxFailedAttempts)
	assert.Equal(t, 30*time.Second, cfg.Lock.LockoutBaseDuration)
	assert.Equal(t, 2, cfg.Lock.LockoutMultiplier)
	assert.Equal(t, 30*time.Minute, cfg.Lock.SessionTimeout)
	assert.Equal(t, 3*time.Minute, cfg.Lock.BackgroundTimeout)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOCK_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("LOCK_SESSION_TIMEOUT", "5m")
	t.Setenv("PIN_VERIFIER_URL", "https://api.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Lock.MaxFailedAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Lock.SessionTimeout)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
}

func TestLoad_RejectsInvalidAttempts(t *testing.T) {
	t.Setenv("LOCK_MAX_FAILED_ATTEMPTS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_IgnoresMalformedDuration(t *testing.T) {
	t.Setenv("LOCK_BACKGROUND_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, cfg.Lock.BackgroundTimeout)
}

func TestDefaultLockConfig(t *testing.T) {
	cfg := DefaultLockConfig()
	assert.Equal(t, 5, cfg.MaxFailedAttempts)
	assert.Equal(t, 30*time.Second, cfg.LockoutBaseDuration)
}
