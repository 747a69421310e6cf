// Package keymanager resolves encryption keys bound to user addresses and
// dispatches cryptographic operations to the scheme backend owning each key.
//
// Lookups are local-first: the store is consulted before the remote
// directory, and a discovered public key is cached locally as a side effect.
// Private keys are never fetched remotely.
package keymanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nicknym/go-keymanager/keymanager/config"
	"github.com/nicknym/go-keymanager/pkg/keys"
	"github.com/nicknym/go-keymanager/pkg/keystore"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

// KeyManager is the orchestrating object: resolver, dispatcher and publisher
// in one. Construct it once per identity; the session token is the only
// field that may change afterwards, via SetSession.
type KeyManager struct {
	address    string
	nickserver string
	apiURI     string
	apiVersion string
	uid        string

	store    keystore.Store
	registry *Registry
	logger   zerolog.Logger

	httpClient *http.Client

	sessionMu sync.RWMutex
	sessionID string
}

// Option configures optional KeyManager behaviour.
type Option func(*KeyManager)

// WithHTTPClient injects the HTTP client used for directory and provider
// calls, bypassing the CA-pool construction. Tests use this to point the
// manager at httptest servers.
func WithHTTPClient(client *http.Client) Option {
	return func(km *KeyManager) {
		km.httpClient = client
	}
}

// New creates a KeyManager for cfg.Address. The registry's scheme set is
// fixed for the lifetime of the manager.
func New(cfg *config.Config, store keystore.Store, registry *Registry, logger zerolog.Logger, opts ...Option) (*KeyManager, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("keymanager: config has no address")
	}
	km := &KeyManager{
		address:    cfg.Address,
		nickserver: cfg.NickserverURI,
		apiURI:     cfg.APIURI,
		apiVersion: cfg.APIVersion,
		uid:        cfg.UID,
		store:      store,
		registry:   registry,
		logger:     logger.With().Str("component", "keymanager").Str("address", cfg.Address).Logger(),
		sessionID:  cfg.SessionID,
	}
	for _, opt := range opts {
		opt(km)
	}
	if km.httpClient == nil && cfg.CACertPath != "" {
		client, err := newHTTPClient(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		km.httpClient = client
	}
	return km, nil
}

// Address returns the address this manager resolves its own keys for.
func (km *KeyManager) Address() string {
	return km.address
}

// SetSession replaces the session token used for authenticated provider
// calls, e.g. after a fresh login.
func (km *KeyManager) SetSession(sessionID string) {
	km.sessionMu.Lock()
	km.sessionID = sessionID
	km.sessionMu.Unlock()
}

func (km *KeyManager) session() string {
	km.sessionMu.RLock()
	defer km.sessionMu.RUnlock()
	return km.sessionID
}

// GetKey returns the key of the given type bound to address.
//
// The local store is consulted first. On a miss, a public key may be fetched
// from the directory and retried locally; a private key or a lookup with
// fetchRemote=false propagates keystore.ErrNotFound unchanged and performs
// no network call.
func (km *KeyManager) GetKey(ctx context.Context, address string, typ keys.Type, private, fetchRemote bool) (keys.Key, error) {
	if _, err := km.registry.ByType(typ); err != nil {
		return keys.Key{}, err
	}

	key, err := km.store.Get(ctx, typ, address, private)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, keystore.ErrNotFound) {
		return keys.Key{}, err
	}
	if private || !fetchRemote {
		return keys.Key{}, err
	}

	if err := km.fetchKeysFromServer(ctx, address); err != nil {
		return keys.Key{}, err
	}
	return km.store.Get(ctx, typ, address, false)
}

// GenKey generates a key pair of the given type bound to the manager's own
// address. Both halves are stored before the private key is returned.
func (km *KeyManager) GenKey(ctx context.Context, typ keys.Type) (keys.Key, error) {
	s, err := km.registry.ByType(typ)
	if err != nil {
		return keys.Key{}, err
	}
	key, err := s.Generate(ctx, km.address)
	if err != nil {
		return keys.Key{}, err
	}
	km.logger.Info().Str("type", string(typ)).Str("fingerprint", key.Fingerprint).Msg("Generated key pair")
	return key, nil
}

// SendKey publishes the manager's own public key of the given type to the
// provider, which signs and republishes it under the user's identifier.
//
// Only schemes implementing scheme.Publisher can be sent. The key must
// already exist locally; a missing key fails with keystore.ErrNotFound
// before any request is issued.
func (km *KeyManager) SendKey(ctx context.Context, typ keys.Type) error {
	s, err := km.registry.ByType(typ)
	if err != nil {
		return err
	}
	publisher, ok := s.(scheme.Publisher)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotPublishable, typ)
	}
	if km.session() == "" {
		return ErrAuthenticationRequired
	}

	pubkey, err := km.GetKey(ctx, km.address, typ, false, false)
	if err != nil {
		return err
	}
	material, err := publisher.ExportPublic(pubkey)
	if err != nil {
		return err
	}

	uri := fmt.Sprintf("%s/%s/users/%s.json", km.apiURI, km.apiVersion, km.uid)
	form := url.Values{pubkeyField: {string(material)}}
	if err := km.putForm(ctx, uri, form); err != nil {
		return err
	}
	km.logger.Info().Str("type", string(typ)).Str("uri", uri).Msg("Published public key")
	return nil
}

// RefreshKeys re-fetches every public key held locally, one directory call
// per distinct address, skipping the manager's own. A failing address does
// not abort the rest; failures are aggregated into the returned error.
func (km *KeyManager) RefreshKeys(ctx context.Context) error {
	stored, err := km.store.ByRole(ctx, false)
	if err != nil {
		return err
	}

	var errs []error
	addresses := make(map[string]struct{})
	for _, rec := range stored {
		if _, err := km.registry.Rehydrate(rec); err != nil {
			errs = append(errs, err)
			continue
		}
		if rec.Address == km.address {
			continue
		}
		addresses[rec.Address] = struct{}{}
	}

	for address := range addresses {
		if err := km.fetchKeysFromServer(ctx, address); err != nil {
			km.logger.Warn().Err(err).Str("peer", address).Msg("Key refresh failed for address")
			errs = append(errs, fmt.Errorf("refreshing %s: %w", address, err))
		}
	}
	return errors.Join(errs...)
}

// fetchKeysFromServer asks the directory for the keys bound to address and
// imports every entry of a registered type into the local store.
func (km *KeyManager) fetchKeysFromServer(ctx context.Context, address string) error {
	uri := fmt.Sprintf("%s?address=%s", km.nickserver, url.QueryEscape(address))
	body, err := km.getJSON(ctx, uri)
	if err != nil {
		return err
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return fmt.Errorf("%w: malformed directory response: %v", ErrTransport, err)
	}

	for _, typ := range km.registry.Types() {
		raw, ok := entries[string(typ)]
		if !ok {
			continue
		}
		s, err := km.registry.ByType(typ)
		if err != nil {
			return err
		}
		if _, err := s.ImportPublic(ctx, address, materialBytes(raw)); err != nil {
			return err
		}
		km.logger.Debug().Str("peer", address).Str("type", string(typ)).Msg("Imported key from directory")
	}
	return nil
}

// materialBytes unwraps a directory entry: armored keys arrive as JSON
// strings, JWKs as JSON objects.
func materialBytes(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}
