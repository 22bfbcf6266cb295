package lock

import (
	"context"
	"sync"
	"time"

	"github.com/jmfairley/applock/internal/models"
	"github.com/jmfairley/applock/internal/remote"
	"github.com/jmfairley/applock/internal/secretstore"
)

// MockBiometricGateway implements BiometricGateway for testing
type MockBiometricGateway struct {
	CapabilitiesFunc func(ctx context.Context) (models.BiometricCapabilities, error)
	ChallengeFunc    func(ctx context.Context, promptText string) (models.BiometricChallengeResult, error)
	ChallengeCalls   int
}

func (m *MockBiometricGateway) Capabilities(ctx context.Context) (models.BiometricCapabilities, error) {
	if m.CapabilitiesFunc != nil {
		return m.CapabilitiesFunc(ctx)
	}
	return models.BiometricCapabilities{
		HasHardware:   true,
		IsEnrolled:    true,
		BiometricType: models.BiometricTypeFingerprint,
	}, nil
}

func (m *MockBiometricGateway) Challenge(ctx context.Context, promptText string) (models.BiometricChallengeResult, error) {
	m.ChallengeCalls++
	if m.ChallengeFunc != nil {
		return m.ChallengeFunc(ctx, promptText)
	}
	return models.BiometricChallengeResult{Success: true}, nil
}

// MockRemoteVerifier implements remote.Verifier for testing
type MockRemoteVerifier struct {
	VerifyFunc  func(ctx context.Context, identifier, pin, businessProfileID string) (*remote.Verification, error)
	VerifyCalls int
}

func (m *MockRemoteVerifier) Verify(ctx context.Context, identifier, pin, businessProfileID string) (*remote.Verification, error) {
	m.VerifyCalls++
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, identifier, pin, businessProfileID)
	}
	return &remote.Verification{Success: false}, nil
}

// MockProfileSyncSource implements ProfileSyncSource for testing
type MockProfileSyncSource struct {
	PinStatusFunc func(ctx context.Context) (ProfilePinStatus, error)
}

func (m *MockProfileSyncSource) PinStatus(ctx context.Context) (ProfilePinStatus, error) {
	if m.PinStatusFunc != nil {
		return m.PinStatusFunc(ctx)
	}
	return ProfilePinStatus{}, nil
}

// FailingStore wraps a MemoryStore and fails selected operations, for
// storage-degradation tests.
type FailingStore struct {
	Inner      *secretstore.MemoryStore
	FailGet    bool
	FailSet    bool
	FailDelete bool
	Err        error
}

func (f *FailingStore) Get(ctx context.Context, key string) (string, error) {
	if f.FailGet {
		return "", f.Err
	}
	return f.Inner.Get(ctx, key)
}

func (f *FailingStore) Set(ctx context.Context, key, value string) error {
	if f.FailSet {
		return f.Err
	}
	return f.Inner.Set(ctx, key, value)
}

func (f *FailingStore) Delete(ctx context.Context, key string) error {
	if f.FailDelete {
		return f.Err
	}
	return f.Inner.Delete(ctx, key)
}

// fakeClock provides a controllable time source for timeout and lockout
// tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
