package models

// BiometricType reported by the platform sensor shell.
type BiometricType string

const (
	BiometricTypeFacial      BiometricType = "facial"
	BiometricTypeFingerprint BiometricType = "fingerprint"
	BiometricTypeIris        BiometricType = "iris"
	BiometricTypeNone        BiometricType = "none"
)

// BiometricCapabilities is queried fresh on every use; OS-level enrollment can
// change underneath us, so it is never cached.
type BiometricCapabilities struct {
	HasHardware   bool
	IsEnrolled    bool
	BiometricType BiometricType
}

// Usable reports whether a biometric challenge can be attempted at all.
func (c BiometricCapabilities) Usable() bool {
	return c.HasHardware && c.IsEnrolled
}

// BiometricErrorCode is the typed failure reason from a sensor challenge.
type BiometricErrorCode string

const (
	BiometricErrUserCancel       BiometricErrorCode = "user_cancel"
	BiometricErrSystemCancel     BiometricErrorCode = "system_cancel"
	BiometricErrAppCancel        BiometricErrorCode = "app_cancel"
	BiometricErrNotEnrolled      BiometricErrorCode = "not_enrolled"
	BiometricErrNotAvailable     BiometricErrorCode = "not_available"
	BiometricErrLockout          BiometricErrorCode = "lockout"
	BiometricErrLockoutPermanent BiometricErrorCode = "lockout_permanent"
	BiometricErrAuthFailed       BiometricErrorCode = "authentication_failed"
)

// IsCancellation reports whether the code represents a user/OS cancellation,
// which is not an authentication attempt and must not count toward lockout.
func (c BiometricErrorCode) IsCancellation() bool {
	switch c {
	case BiometricErrUserCancel, BiometricErrSystemCancel, BiometricErrAppCancel:
		return true
	}
	return false
}

// BiometricChallengeResult is returned by a single sensor challenge.
type BiometricChallengeResult struct {
	Success   bool
	ErrorCode BiometricErrorCode
}
