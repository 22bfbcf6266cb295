package lock

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmfairley/applock/internal/config"
	"github.com/jmfairley/applock/internal/models"
	"github.com/jmfairley/applock/internal/remote"
	"github.com/jmfairley/applock/internal/secretstore"
	pkglogger "github.com/jmfairley/applock/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, store secretstore.Store, gateway BiometricGateway, verifier remote.Verifier) (*Coordinator, *fakeClock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := pkglogger.NewAuditLogger(logger)
	clock := newFakeClock()

	c := NewCoordinator(store, gateway, verifier, config.DefaultLockConfig(), logger, audit)
	c.now = clock.Now
	return c, clock
}

func TestInitialize_FreshInstall(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	c.Initialize(context.Background())

	assert.False(t, c.IsLocked())
	assert.False(t, c.IsConfigured())
	assert.Equal(t, models.LockMethodNone, c.GetLockMethod())
}

func TestInitialize_UnreadableStorageDefaultsLocked(t *testing.T) {
	store := &FailingStore{
		Inner:   secretstore.NewMemoryStore(),
		FailGet: true,
		Err:     errors.New("keychain unavailable"),
	}
	c, _ := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)

	// Must not fail the caller.
	c.Initialize(context.Background())

	assert.True(t, c.IsLocked())
	assert.False(t, c.IsConfigured())
}

func TestInitialize_RestoresUnlockedSessionWithinWindow(t *testing.T) {
	store := secretstore.NewMemoryStore()
	ctx := context.Background()

	first, clock := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)
	first.Initialize(ctx)
	require.NoError(t, first.SetupPin(ctx, "123456"))
	require.True(t, first.UnlockWithPin(ctx, "123456").Success)

	clock.Advance(10 * time.Minute)

	second, _ := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)
	second.now = clock.Now
	second.Initialize(ctx)

	assert.False(t, second.IsLocked())
}

func TestInitialize_LocksAfterSessionWindow(t *testing.T) {
	store := secretstore.NewMemoryStore()
	ctx := context.Background()

	first, clock := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)
	first.Initialize(ctx)
	require.NoError(t, first.SetupPin(ctx, "123456"))
	require.True(t, first.UnlockWithPin(ctx, "123456").Success)

	clock.Advance(31 * time.Minute)

	second, _ := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)
	second.now = clock.Now
	second.Initialize(ctx)

	assert.True(t, second.IsLocked())
}

func TestSetupPin_InvalidFormat(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	c.Initialize(context.Background())

	for _, candidate := range []string{"", "12345", "1234567", "12345a"} {
		err := c.SetupPin(context.Background(), candidate)
		assert.ErrorIs(t, err, models.ErrInvalidPinFormat, "pin %q", candidate)
	}
	assert.False(t, c.IsConfigured())
}

func TestSetupPin_ThenUnlock(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)

	require.NoError(t, c.SetupPin(ctx, "123456"))
	assert.Equal(t, models.LockMethodPin, c.GetLockMethod())
	assert.True(t, c.IsConfigured())

	result := c.UnlockWithPin(ctx, "123456")
	assert.True(t, result.Success)
	assert.Equal(t, models.LockMethodPin, result.Method)

	wrong := c.UnlockWithPin(ctx, "000000")
	assert.False(t, wrong.Success)
	assert.ErrorIs(t, wrong.Err, models.ErrIncorrectSecret)
	assert.Equal(t, 1, c.FailedAttempts())
}

func TestSetupPin_FreshSaltEachTime(t *testing.T) {
	store := secretstore.NewMemoryStore()
	c, _ := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)

	require.NoError(t, c.SetupPin(ctx, "123456"))
	firstSalt, err := store.Get(ctx, "lock.pin.salt")
	require.NoError(t, err)

	require.NoError(t, c.SetupPin(ctx, "123456"))
	secondSalt, err := store.Get(ctx, "lock.pin.salt")
	require.NoError(t, err)

	assert.NotEqual(t, firstSalt, secondSalt)
}

func TestUnlockWithPin_SuccessResetsFailures(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))

	for i := 0; i < 3; i++ {
		c.UnlockWithPin(ctx, "000000")
	}
	require.Equal(t, 3, c.FailedAttempts())

	result := c.UnlockWithPin(ctx, "123456")
	require.True(t, result.Success)
	assert.Equal(t, 0, c.FailedAttempts())
	assert.Equal(t, time.Duration(0), c.RemainingLockout())
}

func TestUnlockWithPin_LockoutTrigger(t *testing.T) {
	c, clock := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))

	for i := 0; i < 4; i++ {
		c.UnlockWithPin(ctx, "000000")
	}
	require.Equal(t, 4, c.FailedAttempts())
	require.Equal(t, time.Duration(0), c.RemainingLockout())

	fifth := c.UnlockWithPin(ctx, "000000")
	assert.ErrorIs(t, fifth.Err, models.ErrIncorrectSecret)
	assert.Equal(t, 5, c.FailedAttempts())
	assert.Equal(t, 30*time.Second, c.RemainingLockout())

	// The correct PIN is never even checked during the lockout window.
	blocked := c.UnlockWithPin(ctx, "123456")
	assert.False(t, blocked.Success)
	assert.ErrorIs(t, blocked.Err, models.ErrLockedOut)
	assert.Equal(t, 5, c.FailedAttempts())

	clock.Advance(31 * time.Second)

	result := c.UnlockWithPin(ctx, "123456")
	assert.True(t, result.Success)
	assert.Equal(t, 0, c.FailedAttempts())
}

func TestUnlockWithPin_LockoutEscalates(t *testing.T) {
	c, clock := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))

	for i := 0; i < 5; i++ {
		c.UnlockWithPin(ctx, "000000")
	}
	require.Equal(t, 30*time.Second, c.RemainingLockout())

	// Each failure past the limit re-arms a window; wait each one out.
	for i := 0; i < 5; i++ {
		clock.Advance(31 * time.Second)
		c.UnlockWithPin(ctx, "000000")
	}
	assert.Equal(t, 10, c.FailedAttempts())
	assert.Equal(t, 60*time.Second, c.RemainingLockout())
}

func TestUnlockWithPin_NotConfigured(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	c.Initialize(context.Background())

	result := c.UnlockWithPin(context.Background(), "123456")
	assert.ErrorIs(t, result.Err, models.ErrNotConfigured)
}

func TestUnlockWithBiometric_Success(t *testing.T) {
	gateway := &MockBiometricGateway{}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), gateway, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupBiometric(ctx))

	result := c.UnlockWithBiometric(ctx)
	assert.True(t, result.Success)
	assert.Equal(t, models.LockMethodBiometric, result.Method)
	assert.False(t, c.IsLocked())
}

func TestUnlockWithBiometric_FailureCounts(t *testing.T) {
	gateway := &MockBiometricGateway{
		ChallengeFunc: func(ctx context.Context, promptText string) (models.BiometricChallengeResult, error) {
			return models.BiometricChallengeResult{
				Success:   false,
				ErrorCode: models.BiometricErrAuthFailed,
			}, nil
		},
	}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), gateway, nil)
	ctx := context.Background()
	c.Initialize(ctx)

	// Setup uses a succeeding challenge, then flip to failing.
	gateway.ChallengeFunc = nil
	require.NoError(t, c.SetupBiometric(ctx))
	gateway.ChallengeFunc = func(ctx context.Context, promptText string) (models.BiometricChallengeResult, error) {
		return models.BiometricChallengeResult{Success: false, ErrorCode: models.BiometricErrAuthFailed}, nil
	}

	result := c.UnlockWithBiometric(ctx)
	assert.ErrorIs(t, result.Err, models.ErrBiometricChallengeFailed)
	assert.Equal(t, 1, c.FailedAttempts())
}

func TestUnlockWithBiometric_CancellationNeutrality(t *testing.T) {
	gateway := &MockBiometricGateway{}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), gateway, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupBiometric(ctx))

	for _, code := range []models.BiometricErrorCode{
		models.BiometricErrUserCancel,
		models.BiometricErrSystemCancel,
		models.BiometricErrAppCancel,
	} {
		gateway.ChallengeFunc = func(ctx context.Context, promptText string) (models.BiometricChallengeResult, error) {
			return models.BiometricChallengeResult{Success: false, ErrorCode: code}, nil
		}
		result := c.UnlockWithBiometric(ctx)
		assert.ErrorIs(t, result.Err, models.ErrBiometricCanceled, "code %s", code)
		assert.Equal(t, 0, c.FailedAttempts(), "code %s", code)
	}
}

func TestUnlockWithBiometric_LockoutShared(t *testing.T) {
	gateway := &MockBiometricGateway{}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), gateway, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))

	// PIN failures and biometric attempts share one failure budget.
	for i := 0; i < 5; i++ {
		c.UnlockWithPin(ctx, "000000")
	}

	result := c.UnlockWithBiometric(ctx)
	assert.ErrorIs(t, result.Err, models.ErrLockedOut)
	assert.Equal(t, 0, gateway.ChallengeCalls)
}

func TestSetupBiometric_Unavailable(t *testing.T) {
	gateway := &MockBiometricGateway{
		CapabilitiesFunc: func(ctx context.Context) (models.BiometricCapabilities, error) {
			return models.BiometricCapabilities{HasHardware: true, IsEnrolled: false}, nil
		},
	}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), gateway, nil)
	c.Initialize(context.Background())

	err := c.SetupBiometric(context.Background())
	assert.ErrorIs(t, err, models.ErrBiometricUnavailable)
	assert.Equal(t, 0, gateway.ChallengeCalls)
}

func TestSetupBiometric_ChallengeFails(t *testing.T) {
	gateway := &MockBiometricGateway{
		ChallengeFunc: func(ctx context.Context, promptText string) (models.BiometricChallengeResult, error) {
			return models.BiometricChallengeResult{Success: false, ErrorCode: models.BiometricErrAuthFailed}, nil
		},
	}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), gateway, nil)
	c.Initialize(context.Background())

	err := c.SetupBiometric(context.Background())
	assert.ErrorIs(t, err, models.ErrBiometricChallengeFailed)
	assert.Equal(t, models.LockMethodNone, c.GetLockMethod())
}

func TestHybridUpgrade(t *testing.T) {
	store := secretstore.NewMemoryStore()
	verifier := &MockRemoteVerifier{
		VerifyFunc: func(ctx context.Context, identifier, pin, businessProfileID string) (*remote.Verification, error) {
			return &remote.Verification{Success: pin == "123456", SessionToken: "tok"}, nil
		},
	}
	c, _ := newTestCoordinator(t, store, &MockBiometricGateway{}, verifier)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetIdentifier(ctx, "user-42"))

	// Profile sync reports a server-side PIN; no local hash yet.
	sync := &MockProfileSyncSource{
		PinStatusFunc: func(ctx context.Context) (ProfilePinStatus, error) {
			return ProfilePinStatus{PinConfigured: true}, nil
		},
	}
	require.NoError(t, c.ApplyProfileSync(ctx, sync))
	assert.True(t, c.IsConfigured())

	result := c.UnlockWithPin(ctx, "123456")
	require.True(t, result.Success)
	require.Equal(t, 1, verifier.VerifyCalls)

	source, err := store.Get(ctx, "lock.pin.source")
	require.NoError(t, err)
	assert.Equal(t, "local", source)

	// Second unlock with network access removed still succeeds offline.
	verifier.VerifyFunc = func(ctx context.Context, identifier, pin, businessProfileID string) (*remote.Verification, error) {
		return nil, remote.ErrUnreachable
	}
	c.Lock()
	offline := c.UnlockWithPin(ctx, "123456")
	assert.True(t, offline.Success)
	assert.Equal(t, 1, verifier.VerifyCalls)
}

func TestHybrid_RemoteWrongPinCounts(t *testing.T) {
	verifier := &MockRemoteVerifier{
		VerifyFunc: func(ctx context.Context, identifier, pin, businessProfileID string) (*remote.Verification, error) {
			return &remote.Verification{Success: false, Message: "incorrect pin"}, nil
		},
	}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, verifier)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetIdentifier(ctx, "user-42"))
	require.NoError(t, c.ApplyProfileSync(ctx, &MockProfileSyncSource{
		PinStatusFunc: func(ctx context.Context) (ProfilePinStatus, error) {
			return ProfilePinStatus{PinConfigured: true}, nil
		},
	}))

	result := c.UnlockWithPin(ctx, "000000")
	assert.ErrorIs(t, result.Err, models.ErrIncorrectSecret)
	assert.Equal(t, 1, c.FailedAttempts())
}

func TestHybrid_UnreachableDoesNotCount(t *testing.T) {
	verifier := &MockRemoteVerifier{
		VerifyFunc: func(ctx context.Context, identifier, pin, businessProfileID string) (*remote.Verification, error) {
			return nil, remote.ErrUnreachable
		},
	}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, verifier)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetIdentifier(ctx, "user-42"))
	require.NoError(t, c.ApplyProfileSync(ctx, &MockProfileSyncSource{
		PinStatusFunc: func(ctx context.Context) (ProfilePinStatus, error) {
			return ProfilePinStatus{PinConfigured: true}, nil
		},
	}))

	before := c.FailedAttempts()
	result := c.UnlockWithPin(ctx, "123456")

	assert.ErrorIs(t, result.Err, models.ErrVerificationUnreachable)
	assert.Equal(t, before, c.FailedAttempts())
}

func TestSessionTimeout_LazyLock(t *testing.T) {
	c, clock := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))
	require.True(t, c.UnlockWithPin(ctx, "123456").Success)
	require.False(t, c.IsLocked())

	clock.Advance(31 * time.Minute)

	assert.True(t, c.IsLocked())
}

func TestExtendSession_KeepsSessionAlive(t *testing.T) {
	c, clock := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))
	require.True(t, c.UnlockWithPin(ctx, "123456").Success)

	clock.Advance(20 * time.Minute)
	c.ExtendSession(ctx)
	clock.Advance(20 * time.Minute)

	assert.False(t, c.IsLocked())
}

func TestExtendSession_NoopWhileLocked(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))
	c.Lock()

	c.ExtendSession(ctx)
	assert.True(t, c.IsLocked())
}

func TestBackgroundTimeout(t *testing.T) {
	c, clock := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))
	require.True(t, c.UnlockWithPin(ctx, "123456").Success)

	t.Run("brief background keeps session", func(t *testing.T) {
		c.OnAppBackground(ctx)
		clock.Advance(2 * time.Minute)
		c.OnAppForeground(ctx)
		assert.False(t, c.IsLocked())
	})

	t.Run("long background locks", func(t *testing.T) {
		c.OnAppBackground(ctx)
		clock.Advance(4 * time.Minute)
		c.OnAppForeground(ctx)
		assert.True(t, c.IsLocked())
	})
}

func TestHybrid_LogsSessionExpiryFromToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	verifier := &MockRemoteVerifier{
		VerifyFunc: func(ctx context.Context, identifier, pin, businessProfileID string) (*remote.Verification, error) {
			return &remote.Verification{Success: true, SessionToken: signed}, nil
		},
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	c := NewCoordinator(secretstore.NewMemoryStore(), &MockBiometricGateway{}, verifier,
		config.DefaultLockConfig(), logger, pkglogger.NewAuditLogger(logger))
	c.now = newFakeClock().Now
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetIdentifier(ctx, "user-42"))
	require.NoError(t, c.ApplyProfileSync(ctx, &MockProfileSyncSource{
		PinStatusFunc: func(ctx context.Context) (ProfilePinStatus, error) {
			return ProfilePinStatus{PinConfigured: true}, nil
		},
	}))

	require.True(t, c.UnlockWithPin(ctx, "123456").Success)

	assert.Contains(t, logs.String(), "verification session established")
	assert.Contains(t, logs.String(), "session_expires_at")
}

func TestHybrid_MalformedSessionTokenDoesNotFailUnlock(t *testing.T) {
	verifier := &MockRemoteVerifier{
		VerifyFunc: func(ctx context.Context, identifier, pin, businessProfileID string) (*remote.Verification, error) {
			return &remote.Verification{Success: true, SessionToken: "not-a-jwt"}, nil
		},
	}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, verifier)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetIdentifier(ctx, "user-42"))
	require.NoError(t, c.ApplyProfileSync(ctx, &MockProfileSyncSource{
		PinStatusFunc: func(ctx context.Context) (ProfilePinStatus, error) {
			return ProfilePinStatus{PinConfigured: true}, nil
		},
	}))

	assert.True(t, c.UnlockWithPin(ctx, "123456").Success)
}

func TestLock_UnconfiguredProfileStaysUnlocked(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)

	c.Lock()
	assert.False(t, c.IsLocked())

	// Once a method exists the flag is honored.
	require.NoError(t, c.SetupPin(ctx, "123456"))
	c.Lock()
	assert.True(t, c.IsLocked())
}

func TestLock_DoesNotTouchFailureCounters(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))
	c.UnlockWithPin(ctx, "000000")
	require.Equal(t, 1, c.FailedAttempts())

	c.Lock()

	assert.True(t, c.IsLocked())
	assert.Equal(t, 1, c.FailedAttempts())
}

func TestUnlock_BypassAfterPasswordLogin(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))
	for i := 0; i < 5; i++ {
		c.UnlockWithPin(ctx, "000000")
	}
	require.True(t, c.IsLocked())

	c.Unlock(ctx)

	assert.False(t, c.IsLocked())
	assert.Equal(t, 0, c.FailedAttempts())
}

func TestClearPinForReset(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))
	require.True(t, c.UnlockWithPin(ctx, "123456").Success)
	c.UnlockWithPin(ctx, "000000") // leave a failure behind

	require.NoError(t, c.ClearPinForReset(ctx))

	// The session stays unlocked: the caller just proved identity with the
	// full-strength password.
	assert.False(t, c.IsLocked())
	assert.False(t, c.IsConfigured())
	assert.Equal(t, 0, c.FailedAttempts())

	// Ready for a new PIN immediately.
	require.NoError(t, c.SetupPin(ctx, "654321"))
	assert.True(t, c.UnlockWithPin(ctx, "654321").Success)
}

func TestReset_FullWipe(t *testing.T) {
	store := secretstore.NewMemoryStore()
	c, _ := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetIdentifier(ctx, "user-42"))
	require.NoError(t, c.SetupPin(ctx, "123456"))
	require.True(t, c.UnlockWithPin(ctx, "123456").Success)

	require.NoError(t, c.Reset(ctx))

	assert.Equal(t, 0, store.Len())
	assert.True(t, c.IsLocked()) // uninitialized defaults to locked
}

func TestApplyProfileSync_NoServerPin(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)

	require.NoError(t, c.ApplyProfileSync(ctx, &MockProfileSyncSource{}))
	assert.False(t, c.IsConfigured())
}

func TestApplyProfileSync_KeepsLocalSecret(t *testing.T) {
	store := secretstore.NewMemoryStore()
	c, _ := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))

	require.NoError(t, c.ApplyProfileSync(ctx, &MockProfileSyncSource{
		PinStatusFunc: func(ctx context.Context) (ProfilePinStatus, error) {
			return ProfilePinStatus{PinConfigured: true}, nil
		},
	}))

	source, err := store.Get(ctx, "lock.pin.source")
	require.NoError(t, err)
	assert.Equal(t, "local", source)
	assert.True(t, c.UnlockWithPin(ctx, "123456").Success)
}

func TestEvents_LockedAndUnlocked(t *testing.T) {
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), &MockBiometricGateway{}, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	require.NoError(t, c.SetupPin(ctx, "123456"))

	var mu sync.Mutex
	var events []Event
	c.Events().Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	require.True(t, c.UnlockWithPin(ctx, "123456").Success)
	c.Lock()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, EventUnlocked, events[0].Kind)
	assert.Equal(t, models.LockMethodPin, events[0].Method)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, EventLocked, events[1].Kind)
}

func TestConcurrentAttempts_ShareOneResult(t *testing.T) {
	release := make(chan struct{})
	gateway := &MockBiometricGateway{
		ChallengeFunc: func(ctx context.Context, promptText string) (models.BiometricChallengeResult, error) {
			<-release
			return models.BiometricChallengeResult{Success: false, ErrorCode: models.BiometricErrAuthFailed}, nil
		},
	}
	c, _ := newTestCoordinator(t, secretstore.NewMemoryStore(), gateway, nil)
	ctx := context.Background()
	c.Initialize(ctx)
	gateway.ChallengeFunc = nil
	require.NoError(t, c.SetupBiometric(ctx))
	gateway.ChallengeCalls = 0
	gateway.ChallengeFunc = func(ctx context.Context, promptText string) (models.BiometricChallengeResult, error) {
		<-release
		return models.BiometricChallengeResult{Success: false, ErrorCode: models.BiometricErrAuthFailed}, nil
	}

	var wg sync.WaitGroup
	results := make([]models.UnlockResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.UnlockWithBiometric(ctx)
		}(i)
	}

	// Let both goroutines reach the attempt before releasing the sensor.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// One sensor invocation, one failure increment, both callers see it.
	assert.Equal(t, 1, gateway.ChallengeCalls)
	assert.Equal(t, 1, c.FailedAttempts())
	assert.ErrorIs(t, results[0].Err, models.ErrBiometricChallengeFailed)
	assert.ErrorIs(t, results[1].Err, models.ErrBiometricChallengeFailed)
}

func TestPersistence_SurvivesRestart(t *testing.T) {
	store := secretstore.NewMemoryStore()
	ctx := context.Background()

	first, clock := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)
	first.Initialize(ctx)
	require.NoError(t, first.SetupPin(ctx, "123456"))
	for i := 0; i < 5; i++ {
		first.UnlockWithPin(ctx, "000000")
	}

	second, _ := newTestCoordinator(t, store, &MockBiometricGateway{}, nil)
	second.now = clock.Now
	second.Initialize(ctx)

	assert.Equal(t, 5, second.FailedAttempts())
	result := second.UnlockWithPin(ctx, "123456")
	assert.ErrorIs(t, result.Err, models.ErrLockedOut)

	clock.Advance(31 * time.Second)
	assert.True(t, second.UnlockWithPin(ctx, "123456").Success)
}
