package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Lock   LockConfig
	Remote RemoteConfig
	Store  StoreConfig
	Server ServerConfig
}

// LockConfig holds the lock timing and attempt parameters. Defaults are the
// product values; tests inject short timeouts through this struct.
type LockConfig struct {
	MaxFailedAttempts   int           // consecutive failures before the first lockout
	LockoutBaseDuration time.Duration // first lockout tier
	LockoutMultiplier   int           // growth factor per tier
	SessionTimeout      time.Duration // in-app inactivity before re-lock
	BackgroundTimeout   time.Duration // time outside the foreground before re-lock
	BiometricPrompt     string        // text shown by the platform sensor prompt
}

type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

type StoreConfig struct {
	Path string // SQLite database path for the local secret store
}

type ServerConfig struct {
	Env      string
	LogLevel string
}

// DefaultLockConfig returns the documented product defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		MaxFailedAttempts:   5,
		LockoutBaseDuration: 30 * time.Second,
		LockoutMultiplier:   2,
		SessionTimeout:      30 * time.Minute,
		BackgroundTimeout:   3 * time.Minute,
		BiometricPrompt:     "Unlock the app",
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Lock: LockConfig{
			MaxFailedAttempts:   getEnvAsInt("LOCK_MAX_FAILED_ATTEMPTS", 5),
			LockoutBaseDuration: getEnvAsDuration("LOCK_LOCKOUT_BASE", 30*time.Second),
			LockoutMultiplier:   getEnvAsInt("LOCK_LOCKOUT_MULTIPLIER", 2),
			SessionTimeout:      getEnvAsDuration("LOCK_SESSION_TIMEOUT", 30*time.Minute),
			BackgroundTimeout:   getEnvAsDuration("LOCK_BACKGROUND_TIMEOUT", 3*time.Minute),
			BiometricPrompt:     getEnv("LOCK_BIOMETRIC_PROMPT", "Unlock the app"),
		},
		Remote: RemoteConfig{
			BaseURL: getEnv("PIN_VERIFIER_URL", ""),
			Timeout: getEnvAsDuration("PIN_VERIFIER_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Path: getEnv("SECRET_STORE_PATH", "applock.db"),
		},
		Server: ServerConfig{
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
	}

	if cfg.Lock.MaxFailedAttempts < 1 {
		return nil, fmt.Errorf("LOCK_MAX_FAILED_ATTEMPTS must be at least 1")
	}
	if cfg.Lock.LockoutMultiplier < 1 {
		return nil, fmt.Errorf("LOCK_LOCKOUT_MULTIPLIER must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
