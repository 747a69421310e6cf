// Package api implements the nickserver HTTP handlers: public address→key
// lookup and the authenticated key-publish endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/nicknym/go-keymanager/pkg/keystore"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

// pubkeyField is the form field the publish endpoint reads the key from.
const pubkeyField = "user[public_key]"

// SessionCookie is the cookie carrying the provider session token.
const SessionCookie = "_session_id"

// API serves the directory endpoints over a key store and the registered
// scheme backends.
type API struct {
	Store   keystore.Store
	Schemes []scheme.Scheme
	Logger  *slog.Logger
}

// LookupHandler answers GET /keys?address=<addr> with a JSON object mapping
// key-type tags to serialized public key material.
//
// An address with no keys still gets a 200 with an entry-less body: "no such
// key" is the client's local lookup's verdict, not a transport error.
func (a *API) LookupHandler(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		a.Logger.Warn("Lookup request without address parameter")
		response.WriteJSONError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}

	logger := a.Logger.With("address", address)

	entries := map[string]string{"address": address}
	for _, s := range a.Schemes {
		key, err := a.Store.Get(r.Context(), s.Type(), address, false)
		if err != nil {
			if keystore.IsNotFound(err) {
				continue
			}
			logger.Error("Key lookup failed", "type", string(s.Type()), "err", err)
			response.WriteJSONError(w, http.StatusInternalServerError, "key lookup failed")
			return
		}
		entries[string(s.Type())] = string(key.KeyData)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		logger.Error("Failed to encode lookup response", "err", err)
		http.Error(w, "Failed to serialize response", http.StatusInternalServerError)
		return
	}
	logger.Debug("Served key lookup", "entries", len(entries)-1)
}

// PublishHandler answers PUT /{version}/users/{uid}.json: it accepts the
// user's public key, imports it through the matching scheme (standing in for
// the provider's sign-and-republish step) and stores it under the user's
// address. Authentication happens in the session middleware before this
// handler runs.
func (a *API) PublishHandler(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimSuffix(r.PathValue("uid"), ".json")
	if uid == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "user identifier is required")
		return
	}

	logger := a.Logger.With("uid", uid)

	if err := r.ParseForm(); err != nil {
		logger.Warn("Malformed publish body", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	material := r.PostForm.Get(pubkeyField)
	if material == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "user[public_key] must not be empty")
		return
	}

	// The published key lands under the uid's address. This server maps the
	// two one-to-one; a full provider would resolve uid through its user
	// database.
	for _, s := range a.Schemes {
		if _, ok := s.(scheme.Publisher); !ok {
			continue
		}
		key, err := s.ImportPublic(r.Context(), uid, []byte(material))
		if err != nil {
			logger.Warn("Rejected published key", "type", string(s.Type()), "err", err)
			continue
		}
		logger.Info("Stored published key", "type", string(s.Type()), "fingerprint", key.Fingerprint)
		w.WriteHeader(http.StatusOK)
		return
	}

	response.WriteJSONError(w, http.StatusBadRequest, "key material matched no publishable scheme")
}

// NewSessionMiddleware authenticates publish requests by comparing the
// session cookie against the configured token.
func NewSessionMiddleware(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				logger.Warn("Publish request without session cookie", "path", r.URL.Path)
				response.WriteJSONError(w, http.StatusUnauthorized, "Unauthorized: no session")
				return
			}
			if token == "" || cookie.Value != token {
				logger.Warn("Publish request with invalid session", "path", r.URL.Path)
				response.WriteJSONError(w, http.StatusUnauthorized, "Unauthorized: invalid session")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LookupURL renders the lookup URI for an address, for clients and tests.
func LookupURL(base, address string) string {
	return base + "?address=" + url.QueryEscape(address)
}
