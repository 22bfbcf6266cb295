// Package secretstore defines the durable, confidentiality-preserving
// key/value store the lock core persists its state into, plus reference
// implementations. The lock core only depends on the Store interface; on a
// device the platform shell typically supplies a keychain/keystore-backed
// implementation instead.
package secretstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been set or was
// deleted. Callers treat it as "field absent", not as a failure.
var ErrNotFound = errors.New("secret not found")

// Store is an opaque, durable, encrypted-at-rest string store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
