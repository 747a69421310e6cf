// Package jose implements the JOSE scheme backend: RSA keys serialized as
// JWKs, JWE for encryption and compact JWS for signatures. It is the second
// registered key type and exists so that dispatch is exercised across more
// than one scheme.
package jose

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/nicknym/go-keymanager/pkg/keys"
	"github.com/nicknym/go-keymanager/pkg/keystore"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

const defaultBits = 2048

// Scheme is the JOSE backend. It satisfies scheme.Scheme; JOSE keys are not
// publishable to the provider, so it deliberately does not implement
// scheme.Publisher.
type Scheme struct {
	store keystore.Store
	bits  int
}

var _ scheme.Scheme = (*Scheme)(nil)

// New creates a JOSE scheme over the given store. bits <= 0 selects the
// default RSA key size; tests pass a smaller one.
func New(store keystore.Store, bits int) *Scheme {
	if bits <= 0 {
		bits = defaultBits
	}
	return &Scheme{store: store, bits: bits}
}

// Type returns the "jose" tag.
func (s *Scheme) Type() keys.Type {
	return keys.JOSE
}

// Generate creates an RSA JWK pair for address and stores both halves before
// returning the private key.
func (s *Scheme) Generate(ctx context.Context, address string) (keys.Key, error) {
	raw, err := rsa.GenerateKey(rand.Reader, s.bits)
	if err != nil {
		return keys.Key{}, fmt.Errorf("jose: generating RSA key for %s: %w", address, err)
	}

	privJWK, err := jwk.FromRaw(raw)
	if err != nil {
		return keys.Key{}, fmt.Errorf("jose: building private JWK: %w", err)
	}
	if err := privJWK.Set(jwk.KeyIDKey, address); err != nil {
		return keys.Key{}, fmt.Errorf("jose: setting key id: %w", err)
	}
	pubJWK, err := jwk.PublicKeyOf(privJWK)
	if err != nil {
		return keys.Key{}, fmt.Errorf("jose: deriving public JWK: %w", err)
	}

	fingerprint, err := thumbprint(pubJWK)
	if err != nil {
		return keys.Key{}, err
	}
	privData, err := json.Marshal(privJWK)
	if err != nil {
		return keys.Key{}, fmt.Errorf("jose: serializing private JWK: %w", err)
	}
	pubData, err := json.Marshal(pubJWK)
	if err != nil {
		return keys.Key{}, fmt.Errorf("jose: serializing public JWK: %w", err)
	}

	priv := keys.Key{
		Address:     address,
		Type:        keys.JOSE,
		Private:     true,
		Fingerprint: fingerprint,
		KeyData:     privData,
	}
	pub := keys.Key{
		Address:     address,
		Type:        keys.JOSE,
		Private:     false,
		Fingerprint: fingerprint,
		KeyData:     pubData,
	}

	if err := s.store.Put(ctx, pub); err != nil {
		return keys.Key{}, fmt.Errorf("jose: storing public key: %w", err)
	}
	if err := s.store.Put(ctx, priv); err != nil {
		return keys.Key{}, fmt.Errorf("jose: storing private key: %w", err)
	}
	return priv, nil
}

// ImportPublic parses JWK material discovered for address and stores it.
func (s *Scheme) ImportPublic(ctx context.Context, address string, material []byte) (keys.Key, error) {
	parsed, err := jwk.ParseKey(material)
	if err != nil {
		return keys.Key{}, fmt.Errorf("jose: parsing JWK material for %s: %w", address, err)
	}
	// The directory may hand us a private JWK by mistake; store only the
	// public half.
	pubJWK, err := jwk.PublicKeyOf(parsed)
	if err != nil {
		return keys.Key{}, fmt.Errorf("jose: deriving public JWK: %w", err)
	}
	if err := pubJWK.Set(jwk.KeyIDKey, address); err != nil {
		return keys.Key{}, fmt.Errorf("jose: setting key id: %w", err)
	}

	fingerprint, err := thumbprint(pubJWK)
	if err != nil {
		return keys.Key{}, err
	}
	data, err := json.Marshal(pubJWK)
	if err != nil {
		return keys.Key{}, fmt.Errorf("jose: serializing public JWK: %w", err)
	}

	key := keys.Key{
		Address:     address,
		Type:        keys.JOSE,
		Private:     false,
		Fingerprint: fingerprint,
		KeyData:     data,
	}
	if err := s.store.Put(ctx, key); err != nil {
		return keys.Key{}, fmt.Errorf("jose: storing imported key: %w", err)
	}
	return key, nil
}

// Encrypt produces a compact JWE to pub. With opts.SignWith set the payload
// is a nested JWS signed by that key.
func (s *Scheme) Encrypt(_ context.Context, data []byte, pub keys.Key, opts scheme.Options) ([]byte, error) {
	pubJWK, err := jwk.ParseKey(pub.KeyData)
	if err != nil {
		return nil, fmt.Errorf("jose: parsing recipient JWK: %w", err)
	}

	payload := data
	if opts.SignWith != nil {
		signJWK, err := jwk.ParseKey(opts.SignWith.KeyData)
		if err != nil {
			return nil, fmt.Errorf("jose: parsing signing JWK: %w", err)
		}
		payload, err = jws.Sign(data, jws.WithKey(jwa.RS256, signJWK))
		if err != nil {
			return nil, fmt.Errorf("jose: signing payload: %w", err)
		}
	}

	ciphertext, err := jwe.Encrypt(payload,
		jwe.WithKey(jwa.RSA_OAEP_256, pubJWK),
		jwe.WithContentEncryption(jwa.A256GCM),
	)
	if err != nil {
		return nil, fmt.Errorf("jose: encrypting: %w", err)
	}
	return ciphertext, nil
}

// Decrypt opens a compact JWE with priv. With opts.VerifyWith set the
// decrypted payload must be a JWS that validates against that key.
func (s *Scheme) Decrypt(_ context.Context, data []byte, priv keys.Key, opts scheme.Options) ([]byte, error) {
	privJWK, err := jwk.ParseKey(priv.KeyData)
	if err != nil {
		return nil, fmt.Errorf("jose: parsing private JWK: %w", err)
	}

	payload, err := jwe.Decrypt(data, jwe.WithKey(jwa.RSA_OAEP_256, privJWK))
	if err != nil {
		return nil, fmt.Errorf("jose: decrypting: %w", err)
	}

	if opts.VerifyWith != nil {
		verifyJWK, err := jwk.ParseKey(opts.VerifyWith.KeyData)
		if err != nil {
			return nil, fmt.Errorf("jose: parsing verification JWK: %w", err)
		}
		verified, err := jws.Verify(payload, jws.WithKey(jwa.RS256, verifyJWK))
		if err != nil {
			return nil, fmt.Errorf("%w: nested signature did not validate for %s",
				scheme.ErrInvalidSignature, opts.VerifyWith.Address)
		}
		return verified, nil
	}
	return payload, nil
}

// Sign returns a compact JWS over data.
func (s *Scheme) Sign(_ context.Context, data []byte, priv keys.Key) ([]byte, error) {
	privJWK, err := jwk.ParseKey(priv.KeyData)
	if err != nil {
		return nil, fmt.Errorf("jose: parsing private JWK: %w", err)
	}
	signed, err := jws.Sign(data, jws.WithKey(jwa.RS256, privJWK))
	if err != nil {
		return nil, fmt.Errorf("jose: signing: %w", err)
	}
	return signed, nil
}

// Verify checks a compact JWS against pub and returns its payload.
func (s *Scheme) Verify(_ context.Context, signed []byte, pub keys.Key) ([]byte, error) {
	pubJWK, err := jwk.ParseKey(pub.KeyData)
	if err != nil {
		return nil, fmt.Errorf("jose: parsing verification JWK: %w", err)
	}
	payload, err := jws.Verify(signed, jws.WithKey(jwa.RS256, pubJWK))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scheme.ErrInvalidSignature, err)
	}
	return payload, nil
}

// thumbprint returns the hex RFC 7638 SHA-256 thumbprint of the key.
func thumbprint(key jwk.Key) (string, error) {
	tp, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("jose: computing thumbprint: %w", err)
	}
	return hex.EncodeToString(tp), nil
}
