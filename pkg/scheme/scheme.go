// Package scheme defines the operation contract every key-type backend
// implements. The key manager never touches key material directly; it
// validates roles and types, then forwards to the scheme owning the key.
package scheme

import (
	"context"
	"errors"

	"github.com/nicknym/go-keymanager/pkg/keys"
)

// ErrInvalidSignature is returned when a signature check fails, either on
// Verify or on a decrypt-with-verify.
var ErrInvalidSignature = errors.New("scheme: invalid signature")

// ErrNoPassphrase is returned when private key material is locked and no
// passphrase was supplied in the options.
var ErrNoPassphrase = errors.New("scheme: passphrase required")

// IsInvalidSignature reports whether err is or wraps ErrInvalidSignature.
func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}

// Options carries the optional parameters of an encrypt or decrypt call.
type Options struct {
	// Passphrase unlocks locked private key material.
	Passphrase string
	// SignWith, when set on Encrypt, embeds a signature by this private key.
	SignWith *keys.Key
	// VerifyWith, when set on Decrypt, requires the ciphertext to carry a
	// valid signature by this public key.
	VerifyWith *keys.Key
}

// Scheme implements key generation, storage-backed import and the four
// cryptographic operations for one key type. A scheme owns every key in the
// local store tagged with its Type.
//
// Role preconditions (public key for Encrypt/Verify, private for
// Decrypt/Sign) are enforced by the key manager before dispatch; schemes may
// assume they hold.
type Scheme interface {
	// Type returns the tag keys of this scheme carry.
	Type() keys.Type

	// Generate creates a key pair bound to address, stores both halves in
	// the local store, and returns the private key.
	Generate(ctx context.Context, address string) (keys.Key, error)

	// ImportPublic parses serialized public key material discovered for
	// address, stores it (overwriting any previous public key), and returns
	// the stored key.
	ImportPublic(ctx context.Context, address string, material []byte) (keys.Key, error)

	// Encrypt encrypts data to pub, optionally signing with opts.SignWith.
	Encrypt(ctx context.Context, data []byte, pub keys.Key, opts Options) ([]byte, error)

	// Decrypt decrypts data with priv. When opts.VerifyWith is set the
	// embedded signature must validate or ErrInvalidSignature is returned.
	Decrypt(ctx context.Context, data []byte, priv keys.Key, opts Options) ([]byte, error)

	// Sign returns a self-contained signed bundle over data.
	Sign(ctx context.Context, data []byte, priv keys.Key) ([]byte, error)

	// Verify checks the signed bundle against pub and returns the verified
	// payload.
	Verify(ctx context.Context, signed []byte, pub keys.Key) ([]byte, error)
}

// Publisher marks a scheme whose public keys the provider API accepts for
// publication. Schemes without this capability cannot be used with
// KeyManager.SendKey.
type Publisher interface {
	// ExportPublic renders the public key in the serialization the provider
	// expects.
	ExportPublic(key keys.Key) ([]byte, error)
}
