package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nicknym/go-keymanager/internal/api"
	"github.com/nicknym/go-keymanager/internal/storage/inmemory"
	"github.com/nicknym/go-keymanager/pkg/keys"
	"github.com/nicknym/go-keymanager/pkg/keystore"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

// newTestLogger creates a discard logger for tests.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockStore
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Put(ctx context.Context, key keys.Key) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, typ keys.Type, address string, private bool) (keys.Key, error) {
	args := m.Called(ctx, typ, address, private)
	if args.Get(0) == nil {
		return keys.Key{}, args.Error(1)
	}
	return args.Get(0).(keys.Key), args.Error(1)
}

func (m *MockStore) ByRole(ctx context.Context, private bool) ([]keys.Key, error) {
	args := m.Called(ctx, private)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]keys.Key), args.Error(1)
}

// stubScheme stores whatever material it is handed, publishable by choice.
type stubScheme struct {
	store       keystore.Store
	typ         keys.Type
	publishable bool
	rejects     bool
}

func (s *stubScheme) Type() keys.Type { return s.typ }

func (s *stubScheme) Generate(_ context.Context, _ string) (keys.Key, error) {
	return keys.Key{}, errors.New("not used in handler tests")
}

func (s *stubScheme) ImportPublic(ctx context.Context, address string, material []byte) (keys.Key, error) {
	if s.rejects {
		return keys.Key{}, fmt.Errorf("bad material for %s", address)
	}
	key := keys.Key{Address: address, Type: s.typ, Fingerprint: "FP", KeyData: material}
	if s.store != nil {
		if err := s.store.Put(ctx, key); err != nil {
			return keys.Key{}, err
		}
	}
	return key, nil
}

func (s *stubScheme) Encrypt(_ context.Context, data []byte, _ keys.Key, _ scheme.Options) ([]byte, error) {
	return data, nil
}

func (s *stubScheme) Decrypt(_ context.Context, data []byte, _ keys.Key, _ scheme.Options) ([]byte, error) {
	return data, nil
}

func (s *stubScheme) Sign(_ context.Context, data []byte, _ keys.Key) ([]byte, error) {
	return data, nil
}

func (s *stubScheme) Verify(_ context.Context, signed []byte, _ keys.Key) ([]byte, error) {
	return signed, nil
}

// ExportPublic is only promoted to the Publisher capability through
// publishableStub, so plain stubSchemes stay non-publishable.
type publishableStub struct {
	*stubScheme
}

func (p *publishableStub) ExportPublic(key keys.Key) ([]byte, error) {
	return key.KeyData, nil
}

func TestLookupHandler(t *testing.T) {
	t.Run("returns stored keys per type", func(t *testing.T) {
		// Arrange
		mockStore := new(MockStore)
		mockStore.On("Get", mock.Anything, keys.Type("openpgp"), "alice@example.org", false).
			Return(keys.Key{Address: "alice@example.org", Type: "openpgp", KeyData: []byte("ARMORED")}, nil).Once()
		a := &api.API{
			Store:   mockStore,
			Schemes: []scheme.Scheme{&stubScheme{typ: "openpgp"}},
			Logger:  newTestLogger(),
		}
		req := httptest.NewRequest(http.MethodGet, api.LookupURL("/keys", "alice@example.org"), nil)
		rr := httptest.NewRecorder()

		// Act
		a.LookupHandler(rr, req)

		// Assert
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "alice@example.org", body["address"])
		assert.Equal(t, "ARMORED", body["openpgp"])
		mockStore.AssertExpectations(t)
	})

	t.Run("unknown address still answers 200", func(t *testing.T) {
		mockStore := new(MockStore)
		mockStore.On("Get", mock.Anything, keys.Type("openpgp"), "nobody@example.org", false).
			Return(nil, keystore.ErrNotFound).Once()
		a := &api.API{
			Store:   mockStore,
			Schemes: []scheme.Scheme{&stubScheme{typ: "openpgp"}},
			Logger:  newTestLogger(),
		}
		req := httptest.NewRequest(http.MethodGet, api.LookupURL("/keys", "nobody@example.org"), nil)
		rr := httptest.NewRecorder()

		a.LookupHandler(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, map[string]string{"address": "nobody@example.org"}, body)
	})

	t.Run("missing address parameter is a 400", func(t *testing.T) {
		a := &api.API{Store: new(MockStore), Logger: newTestLogger()}
		req := httptest.NewRequest(http.MethodGet, "/keys", nil)
		rr := httptest.NewRecorder()

		a.LookupHandler(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		mockStore := new(MockStore)
		mockStore.On("Get", mock.Anything, keys.Type("openpgp"), "alice@example.org", false).
			Return(nil, errors.New("backend down")).Once()
		a := &api.API{
			Store:   mockStore,
			Schemes: []scheme.Scheme{&stubScheme{typ: "openpgp"}},
			Logger:  newTestLogger(),
		}
		req := httptest.NewRequest(http.MethodGet, api.LookupURL("/keys", "alice@example.org"), nil)
		rr := httptest.NewRecorder()

		a.LookupHandler(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

// publishRequest builds an authenticated form PUT the way clients send it.
func publishRequest(t *testing.T, path, material, session string) *http.Request {
	t.Helper()
	form := url.Values{"user[public_key]": {material}}
	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetPathValue("uid", path[strings.LastIndex(path, "/")+1:])
	if session != "" {
		req.AddCookie(&http.Cookie{Name: api.SessionCookie, Value: session})
	}
	return req
}

func TestPublishHandler(t *testing.T) {
	t.Run("stores the published key under the uid", func(t *testing.T) {
		store := inmemory.New()
		a := &api.API{
			Store:   store,
			Schemes: []scheme.Scheme{&publishableStub{&stubScheme{store: store, typ: "openpgp"}}},
			Logger:  newTestLogger(),
		}
		req := publishRequest(t, "/1/users/alice@example.org.json", "ARMORED", "")
		rr := httptest.NewRecorder()

		a.PublishHandler(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		stored, err := store.Get(context.Background(), "openpgp", "alice@example.org", false)
		require.NoError(t, err)
		assert.Equal(t, []byte("ARMORED"), stored.KeyData)
	})

	t.Run("rejects an empty key field", func(t *testing.T) {
		a := &api.API{
			Store:   inmemory.New(),
			Schemes: []scheme.Scheme{&publishableStub{&stubScheme{typ: "openpgp"}}},
			Logger:  newTestLogger(),
		}
		req := publishRequest(t, "/1/users/alice@example.org.json", "", "")
		rr := httptest.NewRecorder()

		a.PublishHandler(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects material no publishable scheme accepts", func(t *testing.T) {
		a := &api.API{
			Store: inmemory.New(),
			Schemes: []scheme.Scheme{
				&stubScheme{typ: "jose"},
				&publishableStub{&stubScheme{typ: "openpgp", rejects: true}},
			},
			Logger: newTestLogger(),
		}
		req := publishRequest(t, "/1/users/alice@example.org.json", "GARBAGE", "")
		rr := httptest.NewRecorder()

		a.PublishHandler(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestSessionMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := api.NewSessionMiddleware("secret-token", newTestLogger())(next)

	t.Run("valid session passes through", func(t *testing.T) {
		req := publishRequest(t, "/1/users/alice@example.org.json", "ARMORED", "secret-token")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("missing cookie is a 401", func(t *testing.T) {
		req := publishRequest(t, "/1/users/alice@example.org.json", "ARMORED", "")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("wrong token is a 401", func(t *testing.T) {
		req := publishRequest(t, "/1/users/alice@example.org.json", "ARMORED", "wrong")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("empty configured token rejects everything", func(t *testing.T) {
		open := api.NewSessionMiddleware("", newTestLogger())(next)
		req := publishRequest(t, "/1/users/alice@example.org.json", "ARMORED", "anything")
		rr := httptest.NewRecorder()
		open.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
