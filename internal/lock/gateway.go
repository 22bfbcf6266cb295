package lock

import (
	"context"
	"time"

	"github.com/jmfairley/applock/internal/models"
)

// BiometricGateway is the platform sensor shell. The core only consumes its
// capability flags and the yes/no outcome of a single challenge; probing and
// prompting live outside this module.
type BiometricGateway interface {
	Capabilities(ctx context.Context) (models.BiometricCapabilities, error)
	Challenge(ctx context.Context, promptText string) (models.BiometricChallengeResult, error)
}

// ProfilePinStatus is what profile sync learns about a server-side PIN after
// a successful password login.
type ProfilePinStatus struct {
	PinConfigured bool
	PinSetAt      *time.Time
}

// ProfileSyncSource supplies ProfilePinStatus for the logged-in user. The
// coordinator consumes it to mark a profile "configured, backend-sourced"
// without requiring immediate re-entry of the PIN.
type ProfileSyncSource interface {
	PinStatus(ctx context.Context) (ProfilePinStatus, error)
}
