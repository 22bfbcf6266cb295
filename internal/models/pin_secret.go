package models

// PinSecretSource indicates where the authoritative copy of a PIN lives.
type PinSecretSource string

const (
	// PinSourceLocal means Salt+Hash below are authoritative and sufficient
	// for fully offline verification.
	PinSourceLocal PinSecretSource = "local"
	// PinSourceBackend means the local hash is absent or stale and the
	// authoritative secret lives on the server. The first successful remote
	// verification upgrades the secret to PinSourceLocal with a fresh salt.
	PinSourceBackend PinSecretSource = "backend"
)

// PinSecret holds the salted digest of a profile's PIN.
type PinSecret struct {
	Salt   []byte
	Hash   []byte
	Source PinSecretSource
}

// Verifiable reports whether the secret can be checked without the backend.
func (p *PinSecret) Verifiable() bool {
	return p != nil && p.Source == PinSourceLocal && len(p.Hash) > 0
}
