package keymanager

import (
	"context"
	"fmt"

	"github.com/nicknym/go-keymanager/pkg/keys"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

// The four operations below validate the key's type and role eagerly and
// fail before anything reaches a backend, so schemes never re-validate
// roles. Public keys encrypt and verify; private keys decrypt and sign.

// Encrypt encrypts data to pub with the scheme owning pub's type. When
// opts.SignWith is set the ciphertext embeds a signature by that private
// key.
func (km *KeyManager) Encrypt(ctx context.Context, data []byte, pub keys.Key, opts scheme.Options) ([]byte, error) {
	s, err := km.registry.ByType(pub.Type)
	if err != nil {
		return nil, err
	}
	if err := requireRole(pub, false, "encrypt"); err != nil {
		return nil, err
	}
	if opts.SignWith != nil {
		if err := requireRole(*opts.SignWith, true, "sign"); err != nil {
			return nil, err
		}
	}
	return s.Encrypt(ctx, data, pub, opts)
}

// Decrypt decrypts data with priv. When opts.VerifyWith is set, a missing or
// invalid embedded signature surfaces as scheme.ErrInvalidSignature.
func (km *KeyManager) Decrypt(ctx context.Context, data []byte, priv keys.Key, opts scheme.Options) ([]byte, error) {
	s, err := km.registry.ByType(priv.Type)
	if err != nil {
		return nil, err
	}
	if err := requireRole(priv, true, "decrypt"); err != nil {
		return nil, err
	}
	if opts.VerifyWith != nil {
		if err := requireRole(*opts.VerifyWith, false, "verify"); err != nil {
			return nil, err
		}
	}
	return s.Decrypt(ctx, data, priv, opts)
}

// Sign returns a self-contained signed bundle over data.
func (km *KeyManager) Sign(ctx context.Context, data []byte, priv keys.Key) ([]byte, error) {
	s, err := km.registry.ByType(priv.Type)
	if err != nil {
		return nil, err
	}
	if err := requireRole(priv, true, "sign"); err != nil {
		return nil, err
	}
	return s.Sign(ctx, data, priv)
}

// Verify checks a signed bundle against pub and returns the verified
// payload.
func (km *KeyManager) Verify(ctx context.Context, signed []byte, pub keys.Key) ([]byte, error) {
	s, err := km.registry.ByType(pub.Type)
	if err != nil {
		return nil, err
	}
	if err := requireRole(pub, false, "verify"); err != nil {
		return nil, err
	}
	return s.Verify(ctx, signed, pub)
}

func requireRole(key keys.Key, private bool, op string) error {
	if key.Private != private {
		want := "public"
		if private {
			want = "private"
		}
		return fmt.Errorf("%w: %s needs a %s key, got the %s key for %s",
			ErrRoleViolation, op, want, key.Role(), key.Address)
	}
	return nil
}
