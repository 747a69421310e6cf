package test

import (
	"io"
	"log/slog"
	"net/http/httptest"

	"cloud.google.com/go/firestore"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	fs "github.com/nicknym/go-keymanager/internal/storage/firestore"
	"github.com/nicknym/go-keymanager/internal/storage/inmemory"
	"github.com/nicknym/go-keymanager/nickserver"
	"github.com/nicknym/go-keymanager/pkg/keystore"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

// newTestLogger creates a discard logger for tests.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestDirectory creates and starts a new httptest.Server for end-to-end
// testing, assembling the directory service over the given store and schemes.
func NewTestDirectory(store keystore.Store, schemes []scheme.Scheme, sessionToken string) *httptest.Server {
	// Use a default config for testing.
	cfg := &nickserver.Config{
		HTTPListenAddr: ":0",
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: []string{"*"}, // Allow all for tests
			Role:           middleware.CorsRoleDefault,
		},
		SessionToken: sessionToken,
	}
	service := nickserver.New(cfg, store, schemes, newTestLogger())
	return httptest.NewServer(service.Mux())
}

// NewInMemoryDirectory is the common case: a directory over a fresh in-memory
// store. It returns the store so tests can seed and inspect it.
func NewInMemoryDirectory(schemes func(keystore.Store) []scheme.Scheme, sessionToken string) (keystore.Store, *httptest.Server) {
	store := inmemory.New()
	return store, NewTestDirectory(store, schemes(store), sessionToken)
}

// NewFirestoreDirectory creates a directory service backed by a real
// (emulated) Firestore client.
func NewFirestoreDirectory(
	fsClient *firestore.Client,
	collectionName string,
	schemes func(keystore.Store) []scheme.Scheme,
	sessionToken string,
) (keystore.Store, *httptest.Server) {
	store := fs.New(fsClient, collectionName, newTestLogger())
	return store, NewTestDirectory(store, schemes(store), sessionToken)
}
