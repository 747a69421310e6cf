package keymanager

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// pubkeyField is the form field the provider API reads the published key
// from.
const pubkeyField = "user[public_key]"

// sessionCookie carries the provider session token.
const sessionCookie = "_session_id"

// newHTTPClient builds a client that only trusts the CA at caCertPath.
func newHTTPClient(caCertPath string) (*http.Client, error) {
	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("keymanager: reading CA certificate %s: %w", caCertPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("keymanager: no certificates found in %s", caCertPath)
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
	}, nil
}

// getJSON issues a verified GET and enforces the directory's response
// contract: 2xx status and an application/json content type.
func (km *KeyManager) getJSON(ctx context.Context, uri string) ([]byte, error) {
	if km.httpClient == nil {
		return nil, ErrNoCACert
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("keymanager: building request: %w", err)
	}
	res, err := km.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrTransport, uri, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s returned %d", ErrTransport, uri, res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return nil, fmt.Errorf("%w: GET %s returned content type %q", ErrTransport, uri, ct)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}
	return body, nil
}

// putForm issues an authenticated PUT carrying the session cookie. Callers
// must have checked the session precondition already; this guards it again
// so no unauthenticated request can ever leave the process.
func (km *KeyManager) putForm(ctx context.Context, uri string, form url.Values) error {
	if km.httpClient == nil {
		return ErrNoCACert
	}
	token := km.session()
	if token == "" {
		return ErrAuthenticationRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("keymanager: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})

	res, err := km.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: PUT %s: %v", ErrTransport, uri, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: PUT %s returned %d", ErrTransport, uri, res.StatusCode)
	}
	return nil
}
