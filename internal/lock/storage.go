package lock

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmfairley/applock/internal/models"
	"github.com/jmfairley/applock/internal/secretstore"
)

// Storage key layout. Personal keys are global; business keys are namespaced
// per profile id and never shared (see profileKeys).
const (
	keyMethod         = "lock.method"
	keyLastUnlockAt   = "lock.last_unlock_at"
	keyFailedAttempts = "lock.failed_attempts"
	keyLockoutUntil   = "lock.lockout_until"
	keyBackgroundedAt = "lock.backgrounded_at"
	keyPinSalt        = "lock.pin.salt"
	keyPinHash        = "lock.pin.hash"
	keyPinSource      = "lock.pin.source"
	keyIdentifier     = "lock.identifier"

	businessKeyPrefix = "business."
)

// profileKeys is the full key set for one profile. Business profiles have no
// method (PIN-only), no backgrounding, and share the global identifier.
type profileKeys struct {
	method         string
	lastUnlockAt   string
	failedAttempts string
	lockoutUntil   string
	backgroundedAt string
	pinSalt        string
	pinHash        string
	pinSource      string
}

func personalKeys() profileKeys {
	return profileKeys{
		method:         keyMethod,
		lastUnlockAt:   keyLastUnlockAt,
		failedAttempts: keyFailedAttempts,
		lockoutUntil:   keyLockoutUntil,
		backgroundedAt: keyBackgroundedAt,
		pinSalt:        keyPinSalt,
		pinHash:        keyPinHash,
		pinSource:      keyPinSource,
	}
}

// businessKeys computes the namespaced key set for one business profile. Every
// key is prefix+id+field; there is no shared-key fallback for any id.
func businessKeys(id string) profileKeys {
	prefix := businessKeyPrefix + id + "."
	return profileKeys{
		lastUnlockAt:   prefix + "last_unlock_at",
		failedAttempts: prefix + "failed_attempts",
		lockoutUntil:   prefix + "lockout_until",
		pinSalt:        prefix + "pin.salt",
		pinHash:        prefix + "pin.hash",
		pinSource:      prefix + "pin.source",
	}
}

// profileStorage is the persistence glue between one profile's in-memory
// state and the secret store. Values are encoded as decimal strings
// (timestamps in unix ms) and std base64 (byte fields); round-trips are
// lossless.
type profileStorage struct {
	store secretstore.Store
	keys  profileKeys
}

func (ps profileStorage) loadState(ctx context.Context) (models.LockState, error) {
	state := models.LockState{Method: models.LockMethodNone}

	if ps.keys.method != "" {
		method, err := ps.getString(ctx, ps.keys.method)
		if err != nil {
			return state, err
		}
		switch models.LockMethod(method) {
		case models.LockMethodBiometric, models.LockMethodPin:
			state.Method = models.LockMethod(method)
		}
	}

	var err error
	if state.LastUnlockAt, err = ps.getTime(ctx, ps.keys.lastUnlockAt); err != nil {
		return state, err
	}
	if state.FailedAttempts, err = ps.getInt(ctx, ps.keys.failedAttempts); err != nil {
		return state, err
	}
	if state.LockoutUntil, err = ps.getTime(ctx, ps.keys.lockoutUntil); err != nil {
		return state, err
	}
	if ps.keys.backgroundedAt != "" {
		if state.BackgroundedAt, err = ps.getTime(ctx, ps.keys.backgroundedAt); err != nil {
			return state, err
		}
	}
	return state, nil
}

func (ps profileStorage) loadPinSecret(ctx context.Context) (*models.PinSecret, error) {
	source, err := ps.getString(ctx, ps.keys.pinSource)
	if err != nil {
		return nil, err
	}
	if source == "" {
		return nil, nil
	}

	secret := &models.PinSecret{Source: models.PinSecretSource(source)}

	salt, err := ps.getString(ctx, ps.keys.pinSalt)
	if err != nil {
		return nil, err
	}
	hash, err := ps.getString(ctx, ps.keys.pinHash)
	if err != nil {
		return nil, err
	}
	if salt != "" {
		if secret.Salt, err = base64.StdEncoding.DecodeString(salt); err != nil {
			return nil, fmt.Errorf("corrupt pin salt: %w", err)
		}
	}
	if hash != "" {
		if secret.Hash, err = base64.StdEncoding.DecodeString(hash); err != nil {
			return nil, fmt.Errorf("corrupt pin hash: %w", err)
		}
	}
	return secret, nil
}

func (ps profileStorage) savePinSecret(ctx context.Context, secret *models.PinSecret) error {
	if err := ps.store.Set(ctx, ps.keys.pinSource, string(secret.Source)); err != nil {
		return err
	}
	if len(secret.Salt) > 0 {
		if err := ps.store.Set(ctx, ps.keys.pinSalt, base64.StdEncoding.EncodeToString(secret.Salt)); err != nil {
			return err
		}
	}
	if len(secret.Hash) > 0 {
		if err := ps.store.Set(ctx, ps.keys.pinHash, base64.StdEncoding.EncodeToString(secret.Hash)); err != nil {
			return err
		}
	}
	return nil
}

func (ps profileStorage) deletePinSecret(ctx context.Context) error {
	for _, key := range []string{ps.keys.pinSalt, ps.keys.pinHash, ps.keys.pinSource} {
		if err := ps.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// saveUnlockSuccess persists the three fields an unlock success changes.
func (ps profileStorage) saveUnlockSuccess(ctx context.Context, at time.Time) error {
	if err := ps.setTime(ctx, ps.keys.lastUnlockAt, at); err != nil {
		return err
	}
	if err := ps.store.Set(ctx, ps.keys.failedAttempts, "0"); err != nil {
		return err
	}
	return ps.store.Delete(ctx, ps.keys.lockoutUntil)
}

func (ps profileStorage) saveUnlockFailure(ctx context.Context, failedAttempts int, lockoutUntil *time.Time) error {
	if err := ps.store.Set(ctx, ps.keys.failedAttempts, strconv.Itoa(failedAttempts)); err != nil {
		return err
	}
	if lockoutUntil != nil {
		return ps.setTime(ctx, ps.keys.lockoutUntil, *lockoutUntil)
	}
	return nil
}

func (ps profileStorage) saveMethod(ctx context.Context, method models.LockMethod) error {
	if ps.keys.method == "" {
		return nil
	}
	return ps.store.Set(ctx, ps.keys.method, string(method))
}

// clearFailures removes the failure bookkeeping keys, used by the forgot-PIN
// flow and profile resets.
func (ps profileStorage) clearFailures(ctx context.Context) error {
	if err := ps.store.Delete(ctx, ps.keys.failedAttempts); err != nil {
		return err
	}
	return ps.store.Delete(ctx, ps.keys.lockoutUntil)
}

// deleteAll removes every key of the profile.
func (ps profileStorage) deleteAll(ctx context.Context) error {
	keys := []string{
		ps.keys.method, ps.keys.lastUnlockAt, ps.keys.failedAttempts,
		ps.keys.lockoutUntil, ps.keys.backgroundedAt,
		ps.keys.pinSalt, ps.keys.pinHash, ps.keys.pinSource,
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := ps.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// getString maps "key absent" to "", distinct from storage failure.
func (ps profileStorage) getString(ctx context.Context, key string) (string, error) {
	value, err := ps.store.Get(ctx, key)
	if errors.Is(err, secretstore.ErrNotFound) {
		return "", nil
	}
	return value, err
}

func (ps profileStorage) getInt(ctx context.Context, key string) (int, error) {
	value, err := ps.getString(ctx, key)
	if err != nil || value == "" {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter at %s: %w", key, err)
	}
	return n, nil
}

func (ps profileStorage) getTime(ctx context.Context, key string) (*time.Time, error) {
	value, err := ps.getString(ctx, key)
	if err != nil || value == "" {
		return nil, err
	}
	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt timestamp at %s: %w", key, err)
	}
	t := time.UnixMilli(millis)
	return &t, nil
}

func (ps profileStorage) setTime(ctx context.Context, key string, t time.Time) error {
	return ps.store.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10))
}
