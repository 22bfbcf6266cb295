package pin

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	SaltLength = 16 // bytes, regenerated on every PIN (re)configuration
	PinLength  = 6  // the app requires exactly 6 digits
)

// Global validator instance (reused across all callers)
var validate = validator.New()

type pinInput struct {
	Pin string `validate:"required,number,len=6"`
}

// Validate checks that the candidate matches the required digit pattern.
// It never touches storage or the network.
func Validate(candidate string) error {
	if err := validate.Struct(pinInput{Pin: candidate}); err != nil {
		return fmt.Errorf("invalid pin format: must be exactly %d digits", PinLength)
	}
	return nil
}

// NewSalt returns SaltLength cryptographically secure random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Hash computes the SHA-256 digest of salt || pin. Deterministic and
// side-effect free: identical inputs always produce identical output.
func Hash(salt []byte, pin string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(pin))
	return h.Sum(nil)
}

// Compare reports whether two digests are equal without early-exit timing.
// The lockout policy rate-limits the channel; this just avoids the obvious
// branch-on-first-mismatch.
func Compare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
