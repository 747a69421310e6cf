// Package keys defines the domain model shared by the key manager, the
// scheme backends and the stores: an encryption key bound to a user-facing
// address, tagged with the scheme that owns it and its public/private role.
package keys

// Type identifies the scheme backend a key belongs to ("openpgp", "jose").
// The tag is what gets persisted alongside generically stored key records,
// so it must stay stable across releases.
type Type string

const (
	// OpenPGP is the ASCII-armored OpenPGP key type.
	OpenPGP Type = "openpgp"
	// JOSE is the JWK-serialized key type.
	JOSE Type = "jose"
)

// Key is one half of an asymmetric key pair bound to an address.
//
// Private is fixed at creation and decides which operations may use the key:
// public keys encrypt and verify, private keys decrypt and sign. KeyData is
// opaque to everything except the owning scheme backend.
type Key struct {
	Address     string
	Type        Type
	Private     bool
	Fingerprint string
	KeyData     []byte
}

// Role returns "private" or "public", for error and log text.
func (k Key) Role() string {
	if k.Private {
		return "private"
	}
	return "public"
}
