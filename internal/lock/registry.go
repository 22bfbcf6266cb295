package lock

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmfairley/applock/internal/config"
	"github.com/jmfairley/applock/internal/models"
	"github.com/jmfairley/applock/internal/remote"
	"github.com/jmfairley/applock/internal/secretstore"
	pkglogger "github.com/jmfairley/applock/pkg/logger"
	"github.com/jmfairley/applock/pkg/pin"
)

// Registry manages independent PIN locks for business profiles. Entries are
// fully isolated: every storage key is computed from the profile id, no
// operation touches another profile's state, and independent profiles may
// unlock concurrently.
type Registry struct {
	store    secretstore.Store
	verifier remote.Verifier
	policy   Policy
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
	now      func() time.Time

	mu       sync.Mutex
	profiles map[string]*businessProfile
}

// businessProfile is one registry entry: PIN-only, own mutex, own in-flight
// guard, state loaded lazily on first use.
type businessProfile struct {
	id      string
	storage profileStorage

	mu       sync.Mutex
	loaded   bool
	state    models.LockState
	secret   *models.PinSecret
	inflight *inflightCall
}

// NewRegistry wires the business profile lock registry.
func NewRegistry(store secretstore.Store, verifier remote.Verifier, cfg config.LockConfig, logger *slog.Logger, audit *pkglogger.AuditLogger) *Registry {
	return &Registry{
		store:    store,
		verifier: verifier,
		policy:   NewPolicy(cfg),
		logger:   logger,
		audit:    audit,
		now:      time.Now,
		profiles: make(map[string]*businessProfile),
	}
}

// validateProfileID rejects ids that are empty or would escape the computed
// key namespace. There is no shared-key fallback for a bad id.
func validateProfileID(id string) error {
	if id == "" || strings.ContainsAny(id, ". \t\n") {
		return models.ErrInvalidProfileID
	}
	return nil
}

func (r *Registry) profile(id string) (*businessProfile, error) {
	if err := validateProfileID(id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		p = &businessProfile{
			id:      id,
			storage: profileStorage{store: r.store, keys: businessKeys(id)},
		}
		r.profiles[id] = p
	}
	return p, nil
}

// load populates the entry from storage on first use. Must be called with
// p.mu held.
func (r *Registry) load(ctx context.Context, p *businessProfile) error {
	if p.loaded {
		return nil
	}
	state, err := p.storage.loadState(ctx)
	if err != nil {
		return err
	}
	secret, err := p.storage.loadPinSecret(ctx)
	if err != nil {
		return err
	}
	p.state = state
	p.secret = secret
	p.loaded = true
	return nil
}

// SetupPin installs a PIN for one business profile.
func (r *Registry) SetupPin(ctx context.Context, profileID, candidate string) error {
	p, err := r.profile(profileID)
	if err != nil {
		return err
	}
	if err := pin.Validate(candidate); err != nil {
		return models.ErrInvalidPinFormat
	}

	salt, err := pin.NewSalt()
	if err != nil {
		r.logger.Error("failed to generate salt", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	secret := &models.PinSecret{
		Salt:   salt,
		Hash:   pin.Hash(salt, candidate),
		Source: models.PinSourceLocal,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := r.load(ctx, p); err != nil {
		r.logger.Error("failed to load business lock state", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	if err := p.storage.savePinSecret(ctx, secret); err != nil {
		r.logger.Error("failed to persist business pin", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	p.secret = secret

	r.audit.LogLockAction("pin_setup", profileID)
	return nil
}

// UnlockWithPin verifies a PIN for one business profile, with the same local
// and hybrid remote semantics as the personal lock, bookkeeping isolated to
// this profile.
func (r *Registry) UnlockWithPin(ctx context.Context, candidate, profileID string) models.UnlockResult {
	p, err := r.profile(profileID)
	if err != nil {
		return models.UnlockFailure(err)
	}

	return r.runAttempt(p, func() models.UnlockResult {
		p.mu.Lock()
		if err := r.load(ctx, p); err != nil {
			p.mu.Unlock()
			r.logger.Error("failed to load business lock state", slog.Any("error", err))
			return models.UnlockFailure(models.ErrStorageUnavailable)
		}
		if p.secret == nil {
			p.mu.Unlock()
			return models.UnlockFailure(models.ErrNotConfigured)
		}
		if lockedOut, remaining := r.policy.IsLockedOut(r.now(), p.state.LockoutUntil); lockedOut {
			p.mu.Unlock()
			r.logger.Info("business unlock rejected during lockout",
				slog.String("business_profile_id", pkglogger.SanitizedProfileID(profileID)),
				slog.Duration("remaining", remaining))
			return models.UnlockFailure(models.ErrLockedOut)
		}
		secret := p.secret
		p.mu.Unlock()

		if secret.Verifiable() {
			if pin.Compare(secret.Hash, pin.Hash(secret.Salt, candidate)) {
				return r.onUnlockSuccess(ctx, p)
			}
			r.onUnlockFailed(ctx, p, "incorrect_pin")
			return models.UnlockFailure(models.ErrIncorrectSecret)
		}

		identifier, err := r.identifier(ctx)
		if err != nil {
			return models.UnlockFailure(models.ErrStorageUnavailable)
		}
		local, err := remoteVerifyAndCache(ctx, r.verifier, p.storage, r.logger, identifier, candidate, profileID)
		switch {
		case err == nil:
			p.mu.Lock()
			p.secret = local
			p.mu.Unlock()
			return r.onUnlockSuccess(ctx, p)
		case errors.Is(err, models.ErrIncorrectSecret):
			r.onUnlockFailed(ctx, p, "incorrect_pin_remote")
			return models.UnlockFailure(models.ErrIncorrectSecret)
		default:
			r.audit.LogUnlockAttempt(pkglogger.AuditEvent{
				EventType:     "unlock_failed",
				ProfileID:     p.id,
				Method:        string(models.LockMethodPin),
				FailureReason: remoteFailureReason(err),
			})
			return models.UnlockFailure(err)
		}
	})
}

// IsConfigured reports whether the profile has any PIN, local or backend.
func (r *Registry) IsConfigured(ctx context.Context, profileID string) (bool, error) {
	p, err := r.profile(profileID)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := r.load(ctx, p); err != nil {
		return false, models.ErrStorageUnavailable
	}
	return p.secret != nil, nil
}

// IsLockedOut reports whether attempts for the profile are currently
// rejected, and the remaining window for UI display.
func (r *Registry) IsLockedOut(ctx context.Context, profileID string) (bool, time.Duration, error) {
	p, err := r.profile(profileID)
	if err != nil {
		return false, 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := r.load(ctx, p); err != nil {
		return false, 0, models.ErrStorageUnavailable
	}
	lockedOut, remaining := r.policy.IsLockedOut(r.now(), p.state.LockoutUntil)
	return lockedOut, remaining, nil
}

// FailedAttempts returns the profile's consecutive failure count.
func (r *Registry) FailedAttempts(ctx context.Context, profileID string) (int, error) {
	p, err := r.profile(profileID)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := r.load(ctx, p); err != nil {
		return 0, models.ErrStorageUnavailable
	}
	return p.state.FailedAttempts, nil
}

// MarkBackendConfigured records that the backend holds a PIN for this profile
// (learned from profile sync) without a local hash; the first successful
// remote unlock will cache one.
func (r *Registry) MarkBackendConfigured(ctx context.Context, profileID string) error {
	p, err := r.profile(profileID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := r.load(ctx, p); err != nil {
		return models.ErrStorageUnavailable
	}
	if p.secret.Verifiable() {
		return nil
	}
	secret := &models.PinSecret{Source: models.PinSourceBackend}
	if err := p.storage.savePinSecret(ctx, secret); err != nil {
		r.logger.Error("failed to persist backend pin marker", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	p.secret = secret
	return nil
}

// Clear removes the profile's PIN and all bookkeeping.
func (r *Registry) Clear(ctx context.Context, profileID string) error {
	p, err := r.profile(profileID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.storage.deleteAll(ctx); err != nil {
		r.logger.Error("failed to clear business lock", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}
	p.state = models.LockState{}
	p.secret = nil
	p.loaded = true

	r.audit.LogLockAction("pin_cleared", profileID)
	return nil
}

// ResetAll wipes every known profile, for logout.
func (r *Registry) ResetAll(ctx context.Context) error {
	r.mu.Lock()
	profiles := make([]*businessProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, p)
	}
	r.profiles = make(map[string]*businessProfile)
	r.mu.Unlock()

	for _, p := range profiles {
		p.mu.Lock()
		err := p.storage.deleteAll(ctx)
		p.mu.Unlock()
		if err != nil {
			r.logger.Error("failed to wipe business lock",
				slog.String("business_profile_id", pkglogger.SanitizedProfileID(p.id)),
				slog.Any("error", err))
			return models.ErrStorageUnavailable
		}
	}
	return nil
}

// identifier reads the globally stored user identifier the remote verifier
// needs. Shared across profiles by design; it names the account, not a lock.
func (r *Registry) identifier(ctx context.Context) (string, error) {
	value, err := r.store.Get(ctx, keyIdentifier)
	if errors.Is(err, secretstore.ErrNotFound) {
		return "", nil
	}
	return value, err
}

func (r *Registry) runAttempt(p *businessProfile, fn func() models.UnlockResult) models.UnlockResult {
	p.mu.Lock()
	if p.inflight != nil {
		call := p.inflight
		p.mu.Unlock()
		<-call.done
		return call.result
	}
	call := &inflightCall{done: make(chan struct{})}
	p.inflight = call
	p.mu.Unlock()

	result := fn()

	p.mu.Lock()
	p.inflight = nil
	p.mu.Unlock()

	call.result = result
	close(call.done)
	return result
}

func (r *Registry) onUnlockSuccess(ctx context.Context, p *businessProfile) models.UnlockResult {
	p.mu.Lock()
	now := r.now()
	p.state.LastUnlockAt = &now
	p.state.ClearFailures()
	p.mu.Unlock()

	if err := p.storage.saveUnlockSuccess(ctx, now); err != nil {
		r.logger.Error("failed to persist business unlock success", slog.Any("error", err))
	}

	r.audit.LogUnlockAttempt(pkglogger.AuditEvent{
		EventType: "unlock_success",
		ProfileID: p.id,
		Method:    string(models.LockMethodPin),
		Success:   true,
	})
	return models.UnlockSuccess(models.LockMethodPin)
}

func (r *Registry) onUnlockFailed(ctx context.Context, p *businessProfile, reason string) {
	p.mu.Lock()
	p.state.FailedAttempts++
	failed := p.state.FailedAttempts
	var lockoutUntil *time.Time
	if duration := r.policy.LockoutDuration(failed); duration > 0 {
		until := r.now().Add(duration)
		p.state.LockoutUntil = &until
		lockoutUntil = &until
	}
	p.mu.Unlock()

	if err := p.storage.saveUnlockFailure(ctx, failed, lockoutUntil); err != nil {
		r.logger.Error("failed to persist business unlock failure", slog.Any("error", err))
	}

	r.audit.LogUnlockAttempt(pkglogger.AuditEvent{
		EventType:     "unlock_failed",
		ProfileID:     p.id,
		Method:        string(models.LockMethodPin),
		FailureReason: reason,
	})
}
