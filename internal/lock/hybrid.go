package lock

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmfairley/applock/internal/models"
	"github.com/jmfairley/applock/internal/remote"
	pkglogger "github.com/jmfairley/applock/pkg/logger"
	"github.com/jmfairley/applock/pkg/pin"
)

// remoteVerifyAndCache asks the backend to verify a PIN for which no local
// hash exists. On a definitive yes it derives a fresh salt+hash pair, persists
// it with a local source, and returns it; subsequent unlocks for the profile
// are then fully offline.
//
// Errors: ErrNotConfigured (no stored identifier), ErrVerificationUnreachable
// (transport or timeout; the PIN was never evaluated), ErrIncorrectSecret
// (definitive no).
func remoteVerifyAndCache(ctx context.Context, verifier remote.Verifier, storage profileStorage, logger *slog.Logger, identifier, candidate, businessProfileID string) (*models.PinSecret, error) {
	if identifier == "" {
		return nil, models.ErrNotConfigured
	}
	if verifier == nil {
		return nil, models.ErrVerificationUnreachable
	}

	verification, err := verifier.Verify(ctx, identifier, candidate, businessProfileID)
	if err != nil {
		logger.Warn("remote pin verification unreachable",
			slog.String("identifier", pkglogger.SanitizedIdentifier(identifier)),
			slog.Any("error", err))
		return nil, models.ErrVerificationUnreachable
	}
	if !verification.Success {
		return nil, models.ErrIncorrectSecret
	}

	if verification.SessionToken != "" {
		if expiresAt, err := remote.SessionExpiry(verification.SessionToken); err != nil {
			logger.Warn("session token expiry unreadable", slog.Any("error", err))
		} else {
			logger.Info("verification session established",
				slog.Time("session_expires_at", *expiresAt))
		}
	}

	salt, err := pin.NewSalt()
	if err != nil {
		// Verification itself succeeded; the unlock stands even if we cannot
		// cache a local copy this time.
		logger.Error("failed to generate salt for cached pin", slog.Any("error", err))
		return &models.PinSecret{Source: models.PinSourceBackend}, nil
	}

	local := &models.PinSecret{
		Salt:   salt,
		Hash:   pin.Hash(salt, candidate),
		Source: models.PinSourceLocal,
	}
	if err := storage.savePinSecret(ctx, local); err != nil {
		logger.Error("failed to cache local pin secret", slog.Any("error", err))
	}
	return local, nil
}

// remoteFailureReason maps a hybrid verification error to its audit label.
func remoteFailureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, models.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "verification_unreachable"
	}
}
