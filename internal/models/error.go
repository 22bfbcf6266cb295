package models

import "errors"

// Sentinel errors for the unlock error taxonomy. Public operations catch
// collaborator failures at their boundary and normalize them into one of these.
var (
	ErrInvalidPinFormat         = errors.New("pin must be exactly 6 digits")
	ErrBiometricUnavailable     = errors.New("biometric hardware unavailable or not enrolled")
	ErrBiometricChallengeFailed = errors.New("biometric challenge failed")
	ErrBiometricCanceled        = errors.New("biometric prompt canceled")
	ErrIncorrectSecret          = errors.New("incorrect pin")
	ErrLockedOut                = errors.New("too many failed attempts, temporarily locked out")
	ErrVerificationUnreachable  = errors.New("pin verification service unreachable")
	ErrStorageUnavailable       = errors.New("secure storage unavailable")

	// State errors
	ErrNotConfigured    = errors.New("lock not configured")
	ErrInvalidProfileID = errors.New("invalid business profile id")
)
