// Package lock implements the device lock core: the state machine deciding
// whether protected surfaces may be shown, PIN and biometric unlock paths with
// a hybrid online/offline verification fallback, exponential lockout, and
// per-business-profile isolated locks.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmfairley/applock/internal/config"
	"github.com/jmfairley/applock/internal/models"
	"github.com/jmfairley/applock/internal/remote"
	"github.com/jmfairley/applock/internal/secretstore"
	pkglogger "github.com/jmfairley/applock/pkg/logger"
	"github.com/jmfairley/applock/pkg/pin"
)

// Coordinator orchestrates unlock attempts for the personal profile. All
// operations against it are serialized per profile; overlapping unlock
// attempts share a single in-flight result instead of double-counting
// failures. Construct one per process and inject it; there is no ambient
// global instance.
type Coordinator struct {
	storage  profileStorage
	gateway  BiometricGateway
	verifier remote.Verifier
	policy   Policy
	guard    TimeoutGuard
	cfg      config.LockConfig
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
	notifier *Notifier
	now      func() time.Time

	mu          sync.Mutex
	initialized bool
	locked      bool
	state       models.LockState
	secret      *models.PinSecret
	identifier  string
	inflight    *inflightCall
}

// inflightCall lets a second unlock attempt against the same profile await
// and reuse the first's result, so failure bookkeeping runs exactly once.
type inflightCall struct {
	done   chan struct{}
	result models.UnlockResult
}

// NewCoordinator wires the personal-profile lock. verifier may be nil when the
// app runs fully offline; the hybrid path then reports the verification
// service as unreachable.
func NewCoordinator(store secretstore.Store, gateway BiometricGateway, verifier remote.Verifier, cfg config.LockConfig, logger *slog.Logger, audit *pkglogger.AuditLogger) *Coordinator {
	return &Coordinator{
		storage:  profileStorage{store: store, keys: personalKeys()},
		gateway:  gateway,
		verifier: verifier,
		policy:   NewPolicy(cfg),
		guard:    NewTimeoutGuard(cfg),
		cfg:      cfg,
		logger:   logger,
		audit:    audit,
		notifier: NewNotifier(),
		now:      time.Now,
		locked:   true,
	}
}

// Events exposes the lock/unlock notification stream.
func (c *Coordinator) Events() *Notifier {
	return c.notifier
}

// Initialize loads persisted lock state and computes the initial locked flag.
// It never fails the caller: unreadable storage degrades to a safe default
// (locked, unconfigured) and is logged as non-fatal.
func (c *Coordinator) Initialize(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.storage.loadState(ctx)
	if err != nil {
		c.logger.Warn("lock state unreadable, defaulting to locked",
			slog.Any("error", err))
		c.state = models.LockState{Method: models.LockMethodNone}
		c.secret = nil
		c.locked = true
		c.initialized = true
		return
	}

	secret, err := c.storage.loadPinSecret(ctx)
	if err != nil {
		c.logger.Warn("pin secret unreadable, defaulting to locked",
			slog.Any("error", err))
		c.state = models.LockState{Method: models.LockMethodNone}
		c.secret = nil
		c.locked = true
		c.initialized = true
		return
	}

	identifier, err := c.storage.getString(ctx, keyIdentifier)
	if err != nil {
		c.logger.Warn("stored identifier unreadable", slog.Any("error", err))
	}

	c.state = state
	c.secret = secret
	c.identifier = identifier
	c.initialized = true

	if state.Method == models.LockMethodNone {
		c.locked = false
	} else {
		c.locked = c.guard.IsSessionExpired(state.LastUnlockAt, c.now())
	}

	c.logger.Info("lock initialized",
		slog.String("method", string(state.Method)),
		slog.Bool("locked", c.locked),
		slog.Int("failed_attempts", state.FailedAttempts))
}

// IsLocked lazily applies the session-timeout check before answering. The
// in-memory flag alone is not authoritative; callers must go through this
// accessor. An unconfigured profile always reports unlocked, even after an
// explicit Lock: with no method set there is nothing a lock screen could
// challenge for, and no unlock path would ever clear the flag.
func (c *Coordinator) IsLocked() bool {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return true
	}
	if c.state.Method == models.LockMethodNone {
		c.mu.Unlock()
		return false
	}
	if !c.locked && c.guard.IsSessionExpired(c.state.LastUnlockAt, c.now()) {
		c.locked = true
		at := c.now()
		c.mu.Unlock()
		c.logger.Info("session timeout expired, locking")
		c.notifier.publish(EventLocked, models.LockMethodNone, at)
		return true
	}
	locked := c.locked
	c.mu.Unlock()
	return locked
}

// GetLockMethod returns the configured default unlock path.
func (c *Coordinator) GetLockMethod() models.LockMethod {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Method
}

// IsConfigured reports whether any lock method is set up.
func (c *Coordinator) IsConfigured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Method != models.LockMethodNone
}

// RemainingLockout returns how long the current lockout window has left, for
// UI countdown display. Zero when not locked out.
func (c *Coordinator) RemainingLockout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, remaining := c.policy.IsLockedOut(c.now(), c.state.LockoutUntil)
	return remaining
}

// FailedAttempts returns the current consecutive failure count.
func (c *Coordinator) FailedAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.FailedAttempts
}

// SetIdentifier persists the opaque user identifier the hybrid PIN path sends
// to the remote verifier. Called after a successful password login.
func (c *Coordinator) SetIdentifier(ctx context.Context, identifier string) error {
	if err := c.storage.store.Set(ctx, keyIdentifier, identifier); err != nil {
		c.logger.Error("failed to persist identifier", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	c.mu.Lock()
	c.identifier = identifier
	c.mu.Unlock()
	return nil
}

// SetupPin validates and installs a new PIN with a fresh salt, making PIN the
// default lock method.
func (c *Coordinator) SetupPin(ctx context.Context, candidate string) error {
	if err := pin.Validate(candidate); err != nil {
		return models.ErrInvalidPinFormat
	}

	salt, err := pin.NewSalt()
	if err != nil {
		c.logger.Error("failed to generate salt", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	secret := &models.PinSecret{
		Salt:   salt,
		Hash:   pin.Hash(salt, candidate),
		Source: models.PinSourceLocal,
	}

	if err := c.storage.savePinSecret(ctx, secret); err != nil {
		c.logger.Error("failed to persist pin secret", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	if err := c.storage.saveMethod(ctx, models.LockMethodPin); err != nil {
		c.logger.Error("failed to persist lock method", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}

	c.mu.Lock()
	c.secret = secret
	c.state.Method = models.LockMethodPin
	c.mu.Unlock()

	c.audit.LogLockAction("pin_setup", "")
	return nil
}

// SetupBiometric confirms enrollment works with a single challenge and makes
// biometric the default lock method.
func (c *Coordinator) SetupBiometric(ctx context.Context) error {
	caps, err := c.gateway.Capabilities(ctx)
	if err != nil {
		c.logger.Warn("biometric capability probe failed", slog.Any("error", err))
		return models.ErrBiometricUnavailable
	}
	if !caps.Usable() {
		return models.ErrBiometricUnavailable
	}

	result, err := c.gateway.Challenge(ctx, c.cfg.BiometricPrompt)
	if err != nil || !result.Success {
		return models.ErrBiometricChallengeFailed
	}

	if err := c.storage.saveMethod(ctx, models.LockMethodBiometric); err != nil {
		c.logger.Error("failed to persist lock method", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}

	c.mu.Lock()
	c.state.Method = models.LockMethodBiometric
	c.mu.Unlock()

	c.audit.LogLockAction("biometric_setup", "")
	return nil
}

// UnlockWithBiometric performs one sensor challenge. Cancellations are not
// attempts: they leave the failure count untouched and the profile
// immediately retryable.
func (c *Coordinator) UnlockWithBiometric(ctx context.Context) models.UnlockResult {
	return c.runAttempt(func() models.UnlockResult {
		if result, blocked := c.checkAttemptAllowed(string(models.LockMethodBiometric)); blocked {
			return result
		}

		challenge, err := c.gateway.Challenge(ctx, c.cfg.BiometricPrompt)
		if err != nil {
			c.logger.Warn("biometric challenge errored", slog.Any("error", err))
			return models.UnlockFailure(models.ErrBiometricUnavailable)
		}

		if challenge.Success {
			return c.onUnlockSuccess(ctx, models.LockMethodBiometric)
		}
		if challenge.ErrorCode.IsCancellation() {
			c.logger.Info("biometric prompt canceled",
				slog.String("code", string(challenge.ErrorCode)))
			return models.UnlockFailure(models.ErrBiometricCanceled)
		}

		c.onUnlockFailed(ctx, string(models.LockMethodBiometric), string(challenge.ErrorCode))
		return models.UnlockFailure(models.ErrBiometricChallengeFailed)
	})
}

// UnlockWithPin verifies the candidate against the local hash when one
// exists, or through the remote verifier otherwise. A successful remote check
// caches a freshly salted local hash so later unlocks work offline.
func (c *Coordinator) UnlockWithPin(ctx context.Context, candidate string) models.UnlockResult {
	return c.runAttempt(func() models.UnlockResult {
		if result, blocked := c.checkAttemptAllowed(string(models.LockMethodPin)); blocked {
			return result
		}

		c.mu.Lock()
		secret := c.secret
		identifier := c.identifier
		c.mu.Unlock()

		if secret.Verifiable() {
			if pin.Compare(secret.Hash, pin.Hash(secret.Salt, candidate)) {
				return c.onUnlockSuccess(ctx, models.LockMethodPin)
			}
			c.onUnlockFailed(ctx, string(models.LockMethodPin), "incorrect_pin")
			return models.UnlockFailure(models.ErrIncorrectSecret)
		}

		return c.unlockViaRemote(ctx, identifier, candidate)
	})
}

// Unlock is the bypass used only after a full-strength password login; it
// marks the session unlocked without consulting any secret.
func (c *Coordinator) Unlock(ctx context.Context) {
	c.mu.Lock()
	method := c.state.Method
	c.mu.Unlock()
	c.onUnlockSuccess(ctx, method)
}

// Lock flips the in-memory flag and notifies. Failure counters are untouched:
// locking is neither a failed nor a successful unlock.
func (c *Coordinator) Lock() {
	c.mu.Lock()
	c.locked = true
	at := c.now()
	c.mu.Unlock()

	c.audit.LogLockAction("locked", "")
	c.notifier.publish(EventLocked, models.LockMethodNone, at)
}

// ExtendSession refreshes the inactivity window on user activity. No-op while
// locked.
func (c *Coordinator) ExtendSession(ctx context.Context) {
	c.mu.Lock()
	if c.locked {
		c.mu.Unlock()
		return
	}
	now := c.now()
	c.state.LastUnlockAt = &now
	c.mu.Unlock()

	if err := c.storage.setTime(ctx, c.storage.keys.lastUnlockAt, now); err != nil {
		c.logger.Error("failed to persist session extension", slog.Any("error", err))
	}
}

// OnAppBackground records when the app left the foreground.
func (c *Coordinator) OnAppBackground(ctx context.Context) {
	c.mu.Lock()
	now := c.now()
	c.state.BackgroundedAt = &now
	c.mu.Unlock()

	if err := c.storage.setTime(ctx, c.storage.keys.backgroundedAt, now); err != nil {
		c.logger.Error("failed to persist background time", slog.Any("error", err))
	}
}

// OnAppForeground applies the background timeout and clears the marker.
func (c *Coordinator) OnAppForeground(ctx context.Context) {
	c.mu.Lock()
	now := c.now()
	expired := c.state.Method != models.LockMethodNone &&
		c.guard.IsBackgroundExpired(c.state.BackgroundedAt, now)
	c.state.BackgroundedAt = nil
	if expired {
		c.locked = true
	}
	c.mu.Unlock()

	if err := c.storage.store.Delete(ctx, c.storage.keys.backgroundedAt); err != nil {
		c.logger.Error("failed to clear background time", slog.Any("error", err))
	}
	if expired {
		c.logger.Info("background timeout expired, locking")
		c.notifier.publish(EventLocked, models.LockMethodNone, now)
	}
}

// ClearPinForReset supports the forgot-PIN flow. The caller has already
// verified the user's password through the full login path, which is stronger
// proof of identity than a PIN, so the session stays unlocked and SetupPin
// can run again immediately.
func (c *Coordinator) ClearPinForReset(ctx context.Context) error {
	if err := c.storage.deletePinSecret(ctx); err != nil {
		c.logger.Error("failed to delete pin secret", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	if err := c.storage.clearFailures(ctx); err != nil {
		c.logger.Error("failed to clear failure state", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	if err := c.storage.saveMethod(ctx, models.LockMethodNone); err != nil {
		c.logger.Error("failed to persist lock method", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}

	c.mu.Lock()
	c.secret = nil
	c.state.Method = models.LockMethodNone
	c.state.ClearFailures()
	c.locked = false
	c.mu.Unlock()

	c.audit.LogLockAction("pin_cleared", "")
	return nil
}

// Reset is the full wipe for logout: every persisted field removed, all
// in-memory state back to defaults, the coordinator uninitialized.
func (c *Coordinator) Reset(ctx context.Context) error {
	if err := c.storage.deleteAll(ctx); err != nil {
		c.logger.Error("failed to wipe lock state", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	if err := c.storage.store.Delete(ctx, keyIdentifier); err != nil {
		c.logger.Error("failed to delete identifier", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}

	c.mu.Lock()
	c.state = models.LockState{Method: models.LockMethodNone}
	c.secret = nil
	c.identifier = ""
	c.locked = true
	c.initialized = false
	c.mu.Unlock()

	c.audit.LogLockAction("reset", "")
	return nil
}

// ApplyProfileSync consumes the server-side PIN status learned after a
// password login. A server-configured PIN with no local copy marks the lock
// configured with a backend-sourced secret; the first successful remote
// unlock upgrades it to a local one.
func (c *Coordinator) ApplyProfileSync(ctx context.Context, source ProfileSyncSource) error {
	status, err := source.PinStatus(ctx)
	if err != nil {
		c.logger.Warn("profile sync unavailable", slog.Any("error", err))
		return err
	}
	if !status.PinConfigured {
		return nil
	}

	c.mu.Lock()
	alreadyLocal := c.secret.Verifiable()
	c.mu.Unlock()
	if alreadyLocal {
		return nil
	}

	secret := &models.PinSecret{Source: models.PinSourceBackend}
	if err := c.storage.savePinSecret(ctx, secret); err != nil {
		c.logger.Error("failed to persist backend pin marker", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	if err := c.storage.saveMethod(ctx, models.LockMethodPin); err != nil {
		c.logger.Error("failed to persist lock method", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}

	c.mu.Lock()
	c.secret = secret
	c.state.Method = models.LockMethodPin
	c.mu.Unlock()

	c.logger.Info("backend pin detected via profile sync")
	return nil
}

// runAttempt serializes unlock attempts: a second caller while one is in
// flight awaits and shares that attempt's result.
func (c *Coordinator) runAttempt(fn func() models.UnlockResult) models.UnlockResult {
	c.mu.Lock()
	if c.inflight != nil {
		call := c.inflight
		c.mu.Unlock()
		<-call.done
		return call.result
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	result := fn()

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()

	call.result = result
	close(call.done)
	return result
}

// checkAttemptAllowed rejects attempts while unconfigured or locked out,
// without consulting any secret.
func (c *Coordinator) checkAttemptAllowed(method string) (models.UnlockResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Method == models.LockMethodNone && c.secret == nil {
		return models.UnlockFailure(models.ErrNotConfigured), true
	}
	if lockedOut, remaining := c.policy.IsLockedOut(c.now(), c.state.LockoutUntil); lockedOut {
		c.logger.Info("unlock attempt rejected during lockout",
			slog.String("method", method),
			slog.Duration("remaining", remaining))
		return models.UnlockFailure(models.ErrLockedOut), true
	}
	return models.UnlockResult{}, false
}

// unlockViaRemote is the hybrid path: no local hash exists, so the backend is
// the verification authority, and a definitive yes caches a fresh local
// secret for offline checks.
func (c *Coordinator) unlockViaRemote(ctx context.Context, identifier, candidate string) models.UnlockResult {
	local, err := remoteVerifyAndCache(ctx, c.verifier, c.storage, c.logger, identifier, candidate, "")
	switch {
	case err == nil:
		c.mu.Lock()
		c.secret = local
		c.mu.Unlock()
		return c.onUnlockSuccess(ctx, models.LockMethodPin)
	case errors.Is(err, models.ErrIncorrectSecret):
		c.onUnlockFailed(ctx, string(models.LockMethodPin), "incorrect_pin_remote")
		return models.UnlockFailure(models.ErrIncorrectSecret)
	default:
		// The PIN was never evaluated; this is not a failed attempt.
		c.audit.LogUnlockAttempt(pkglogger.AuditEvent{
			EventType:     "unlock_failed",
			Method:        string(models.LockMethodPin),
			FailureReason: remoteFailureReason(err),
		})
		return models.UnlockFailure(err)
	}
}

// onUnlockSuccess mutates in-memory state first so the next lockout check in
// this process observes it even if persistence lags, then persists and
// notifies.
func (c *Coordinator) onUnlockSuccess(ctx context.Context, method models.LockMethod) models.UnlockResult {
	c.mu.Lock()
	now := c.now()
	c.state.LastUnlockAt = &now
	c.state.ClearFailures()
	c.locked = false
	c.mu.Unlock()

	if err := c.storage.saveUnlockSuccess(ctx, now); err != nil {
		c.logger.Error("failed to persist unlock success", slog.Any("error", err))
	}

	c.audit.LogUnlockAttempt(pkglogger.AuditEvent{
		EventType: "unlock_success",
		Method:    string(method),
		Success:   true,
	})
	c.notifier.publish(EventUnlocked, method, now)
	return models.UnlockSuccess(method)
}

// onUnlockFailed increments the failure count and opens a lockout window when
// the policy says so.
func (c *Coordinator) onUnlockFailed(ctx context.Context, method, reason string) {
	c.mu.Lock()
	c.state.FailedAttempts++
	failed := c.state.FailedAttempts
	var lockoutUntil *time.Time
	if duration := c.policy.LockoutDuration(failed); duration > 0 {
		until := c.now().Add(duration)
		c.state.LockoutUntil = &until
		lockoutUntil = &until
	}
	c.mu.Unlock()

	if err := c.storage.saveUnlockFailure(ctx, failed, lockoutUntil); err != nil {
		c.logger.Error("failed to persist unlock failure", slog.Any("error", err))
	}

	c.audit.LogUnlockAttempt(pkglogger.AuditEvent{
		EventType:     "unlock_failed",
		Method:        method,
		FailureReason: reason,
	})
}
