package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmfairley/applock/internal/config"
	"github.com/jmfairley/applock/internal/lock"
	"github.com/jmfairley/applock/internal/models"
	"github.com/jmfairley/applock/internal/remote"
	"github.com/jmfairley/applock/internal/secretstore"
	pkglogger "github.com/jmfairley/applock/pkg/logger"
)

const usage = `lockctl - inspect and drive the local device lock

Usage:
  lockctl status [profile-id]
  lockctl set-identifier <identifier>
  lockctl setup-pin <pin> [profile-id]
  lockctl unlock <pin> [profile-id]
  lockctl lock
  lockctl clear-pin [profile-id]
  lockctl reset

The secret store path, verifier URL and lock parameters come from the
environment or a .env file. LOCK_MASTER_SECRET must be set.`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	masterSecret := os.Getenv("LOCK_MASTER_SECRET")
	if masterSecret == "" {
		logger.Error("LOCK_MASTER_SECRET is required")
		os.Exit(1)
	}

	// Initialize secret store
	store, err := secretstore.NewSQLiteStore(cfg.Store.Path, []byte(masterSecret))
	if err != nil {
		logger.Error("failed to open secret store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	// Remote verifier is optional; without one, only local PINs work.
	var verifier remote.Verifier
	if cfg.Remote.BaseURL != "" {
		verifier = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	coordinator := lock.NewCoordinator(store, noSensorGateway{}, verifier, cfg.Lock, logger, auditLogger)
	registry := lock.NewRegistry(store, verifier, cfg.Lock, logger, auditLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coordinator.Initialize(ctx)

	if err := run(ctx, coordinator, registry, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		logger.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, coordinator *lock.Coordinator, registry *lock.Registry, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	command, rest := args[0], args[1:]
	switch command {
	case "status":
		return runStatus(ctx, coordinator, registry, rest)
	case "set-identifier":
		if len(rest) != 1 {
			return errUsage
		}
		return coordinator.SetIdentifier(ctx, rest[0])
	case "setup-pin":
		return runSetupPin(ctx, coordinator, registry, rest)
	case "unlock":
		return runUnlock(ctx, coordinator, registry, rest)
	case "lock":
		coordinator.Lock()
		fmt.Println("locked")
		return nil
	case "clear-pin":
		if len(rest) == 1 {
			return registry.Clear(ctx, rest[0])
		}
		return coordinator.ClearPinForReset(ctx)
	case "reset":
		if err := coordinator.Reset(ctx); err != nil {
			return err
		}
		return registry.ResetAll(ctx)
	default:
		return errUsage
	}
}

func runStatus(ctx context.Context, coordinator *lock.Coordinator, registry *lock.Registry, args []string) error {
	if len(args) == 1 {
		profileID := args[0]
		configured, err := registry.IsConfigured(ctx, profileID)
		if err != nil {
			return err
		}
		lockedOut, remaining, err := registry.IsLockedOut(ctx, profileID)
		if err != nil {
			return err
		}
		failed, err := registry.FailedAttempts(ctx, profileID)
		if err != nil {
			return err
		}
		fmt.Printf("profile:         %s\n", profileID)
		fmt.Printf("configured:      %t\n", configured)
		fmt.Printf("failed attempts: %d\n", failed)
		if lockedOut {
			fmt.Printf("locked out for:  %s\n", remaining.Round(time.Second))
		}
		return nil
	}

	fmt.Printf("configured:      %t\n", coordinator.IsConfigured())
	fmt.Printf("method:          %s\n", coordinator.GetLockMethod())
	fmt.Printf("locked:          %t\n", coordinator.IsLocked())
	fmt.Printf("failed attempts: %d\n", coordinator.FailedAttempts())
	if remaining := coordinator.RemainingLockout(); remaining > 0 {
		fmt.Printf("locked out for:  %s\n", remaining.Round(time.Second))
	}
	return nil
}

func runSetupPin(ctx context.Context, coordinator *lock.Coordinator, registry *lock.Registry, args []string) error {
	switch len(args) {
	case 1:
		if err := coordinator.SetupPin(ctx, args[0]); err != nil {
			return err
		}
	case 2:
		if err := registry.SetupPin(ctx, args[1], args[0]); err != nil {
			return err
		}
	default:
		return errUsage
	}
	fmt.Println("pin configured")
	return nil
}

func runUnlock(ctx context.Context, coordinator *lock.Coordinator, registry *lock.Registry, args []string) error {
	var result models.UnlockResult
	switch len(args) {
	case 1:
		result = coordinator.UnlockWithPin(ctx, args[0])
	case 2:
		result = registry.UnlockWithPin(ctx, args[0], args[1])
	default:
		return errUsage
	}

	if !result.Success {
		return result.Err
	}
	fmt.Println("unlocked")
	return nil
}

// noSensorGateway reports no biometric hardware; lockctl runs headless, so
// only PIN operations are available.
type noSensorGateway struct{}

func (noSensorGateway) Capabilities(ctx context.Context) (models.BiometricCapabilities, error) {
	return models.BiometricCapabilities{}, nil
}

func (noSensorGateway) Challenge(ctx context.Context, promptText string) (models.BiometricChallengeResult, error) {
	return models.BiometricChallengeResult{
		Success:   false,
		ErrorCode: models.BiometricErrNotAvailable,
	}, nil
}
