package keymanager

import (
	"fmt"

	"github.com/nicknym/go-keymanager/pkg/keys"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

// Registry maps key-type tags to their scheme backends. The set of supported
// types is fixed at construction and never mutated, so lookups need no
// locking.
type Registry struct {
	schemes map[keys.Type]scheme.Scheme
}

// NewRegistry builds a registry from the given schemes. Exactly one scheme
// per type; a duplicate tag is a programming error.
func NewRegistry(schemes ...scheme.Scheme) (*Registry, error) {
	r := &Registry{schemes: make(map[keys.Type]scheme.Scheme, len(schemes))}
	for _, s := range schemes {
		if _, dup := r.schemes[s.Type()]; dup {
			return nil, fmt.Errorf("keymanager: scheme for type %q registered twice", s.Type())
		}
		r.schemes[s.Type()] = s
	}
	return r, nil
}

// ByType returns the scheme owning the given type tag.
func (r *Registry) ByType(typ keys.Type) (scheme.Scheme, error) {
	s, ok := r.schemes[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyType, typ)
	}
	return s, nil
}

// Types returns the registered type tags, in no particular order.
func (r *Registry) Types() []keys.Type {
	out := make([]keys.Type, 0, len(r.schemes))
	for typ := range r.schemes {
		out = append(out, typ)
	}
	return out
}

// Rehydrate validates a generically stored record against the registered
// set. This is the one place generic storage crosses back into typed
// dispatch: a stored tag matching no registered scheme signals local data
// corruption or version skew.
func (r *Registry) Rehydrate(stored keys.Key) (keys.Key, error) {
	if _, ok := r.schemes[stored.Type]; !ok {
		return keys.Key{}, fmt.Errorf("%w: stored key for %s carries tag %q",
			ErrUnknownKeyType, stored.Address, stored.Type)
	}
	return stored, nil
}
