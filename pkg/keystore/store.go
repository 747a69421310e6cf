// Package keystore defines the local key cache contract. Any component that
// can persist and enumerate keys (in-memory, Firestore, etc.) must implement
// this interface.
package keystore

import (
	"context"
	"errors"

	"github.com/nicknym/go-keymanager/pkg/keys"
)

// ErrNotFound is returned when no key matches a (type, address, role) lookup.
// Callers treat this as the ordinary "key doesn't exist yet" signal.
var ErrNotFound = errors.New("keystore: key not found")

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the persistence contract consumed by the scheme backends and the
// key manager. Implementations must be safe for concurrent use.
type Store interface {
	// Put persists the key, overwriting any existing key with the same
	// (Type, Address, Private) coordinates.
	Put(ctx context.Context, key keys.Key) error

	// Get returns the key of the given type bound to address with the
	// requested role. Returns ErrNotFound on a miss.
	Get(ctx context.Context, typ keys.Type, address string, private bool) (keys.Key, error)

	// ByRole enumerates every stored key with the given role, across all
	// types and addresses. Records carry their type tag so that callers can
	// rehydrate them through the scheme registry.
	ByRole(ctx context.Context, private bool) ([]keys.Key, error)
}
