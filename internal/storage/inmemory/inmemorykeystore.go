// Package inmemory provides a thread-safe in-memory key store. It backs unit
// tests and the nickserver's local run mode.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nicknym/go-keymanager/pkg/keys"
	"github.com/nicknym/go-keymanager/pkg/keystore"
)

// Store is a concrete, thread-safe in-memory implementation of the
// keystore.Store interface.
type Store struct {
	sync.RWMutex
	keys map[string]keys.Key
}

// New creates a new in-memory key store.
func New() *Store {
	return &Store{keys: make(map[string]keys.Key)}
}

// storageKey is the canonical map key for a (type, role, address) coordinate.
func storageKey(typ keys.Type, address string, private bool) string {
	role := "public"
	if private {
		role = "private"
	}
	return fmt.Sprintf("%s:%s:%s", typ, role, address)
}

// Put adds or overwrites a key in the map.
func (s *Store) Put(_ context.Context, key keys.Key) error {
	s.Lock()
	defer s.Unlock()
	s.keys[storageKey(key.Type, key.Address, key.Private)] = key
	return nil
}

// Get retrieves a key from the map, returning keystore.ErrNotFound on a miss.
func (s *Store) Get(_ context.Context, typ keys.Type, address string, private bool) (keys.Key, error) {
	s.RLock()
	defer s.RUnlock()
	key, ok := s.keys[storageKey(typ, address, private)]
	if !ok {
		return keys.Key{}, fmt.Errorf("%w: no %s key for %s", keystore.ErrNotFound, typ, address)
	}
	return key, nil
}

// ByRole enumerates every stored key with the given role.
func (s *Store) ByRole(_ context.Context, private bool) ([]keys.Key, error) {
	s.RLock()
	defer s.RUnlock()
	var out []keys.Key
	for _, key := range s.keys {
		if key.Private == private {
			out = append(out, key)
		}
	}
	return out, nil
}
