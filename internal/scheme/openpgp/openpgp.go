// Package openpgp implements the OpenPGP scheme backend on top of
// golang.org/x/crypto/openpgp. Keys are held as ASCII-armored keyrings in the
// local store; one RSA entity per address.
package openpgp

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/clearsign"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/nicknym/go-keymanager/pkg/keys"
	"github.com/nicknym/go-keymanager/pkg/keystore"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

const messageType = "PGP MESSAGE"

// hashSHA256 is the RFC 4880 algorithm ID for SHA-256.
const hashSHA256 = 8

// Scheme is the OpenPGP backend. It satisfies scheme.Scheme and the
// scheme.Publisher capability.
type Scheme struct {
	store  keystore.Store
	config *packet.Config
}

var _ scheme.Scheme = (*Scheme)(nil)
var _ scheme.Publisher = (*Scheme)(nil)

// New creates an OpenPGP scheme over the given store. config may be nil for
// defaults; tests pass a config with small RSA keys.
func New(store keystore.Store, config *packet.Config) *Scheme {
	return &Scheme{store: store, config: config}
}

// Type returns the "openpgp" tag.
func (s *Scheme) Type() keys.Type {
	return keys.OpenPGP
}

// Generate creates a fresh RSA entity for address and stores both the
// private and the public armored serialization before returning the private
// key.
func (s *Scheme) Generate(ctx context.Context, address string) (keys.Key, error) {
	entity, err := openpgp.NewEntity(address, "", address, s.config)
	if err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: generating entity for %s: %w", address, err)
	}
	// NewEntity advertises no preferred hashes, which makes message
	// encryption fall back to RIPEMD160 and fail.
	preferSHA256(entity)

	// SerializePrivate must run first: it creates the self-signatures the
	// public serialization needs.
	var privBuf bytes.Buffer
	aw, err := armor.Encode(&privBuf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: armoring private key: %w", err)
	}
	if err := entity.SerializePrivate(aw, s.config); err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: serializing private key: %w", err)
	}
	if err := aw.Close(); err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: armoring private key: %w", err)
	}

	var pubBuf bytes.Buffer
	aw, err = armor.Encode(&pubBuf, openpgp.PublicKeyType, nil)
	if err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: armoring public key: %w", err)
	}
	if err := entity.Serialize(aw); err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: serializing public key: %w", err)
	}
	if err := aw.Close(); err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: armoring public key: %w", err)
	}

	fingerprint := fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
	priv := keys.Key{
		Address:     address,
		Type:        keys.OpenPGP,
		Private:     true,
		Fingerprint: fingerprint,
		KeyData:     privBuf.Bytes(),
	}
	pub := keys.Key{
		Address:     address,
		Type:        keys.OpenPGP,
		Private:     false,
		Fingerprint: fingerprint,
		KeyData:     pubBuf.Bytes(),
	}

	if err := s.store.Put(ctx, pub); err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: storing public key: %w", err)
	}
	if err := s.store.Put(ctx, priv); err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: storing private key: %w", err)
	}
	return priv, nil
}

// ImportPublic parses armored public key material discovered for address and
// stores it, overwriting any previous public key for that address.
func (s *Scheme) ImportPublic(ctx context.Context, address string, material []byte) (keys.Key, error) {
	entity, err := readEntity(material)
	if err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: parsing key material for %s: %w", address, err)
	}

	key := keys.Key{
		Address:     address,
		Type:        keys.OpenPGP,
		Private:     false,
		Fingerprint: fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint),
		KeyData:     material,
	}
	if err := s.store.Put(ctx, key); err != nil {
		return keys.Key{}, fmt.Errorf("openpgp: storing imported key: %w", err)
	}
	return key, nil
}

// ExportPublic renders the public key as received or generated: the armored
// serialization the provider API expects.
func (s *Scheme) ExportPublic(key keys.Key) ([]byte, error) {
	if key.Private {
		return nil, fmt.Errorf("openpgp: refusing to export private key material for %s", key.Address)
	}
	return key.KeyData, nil
}

// Encrypt encrypts data to pub, embedding a signature by opts.SignWith when
// set.
func (s *Scheme) Encrypt(ctx context.Context, data []byte, pub keys.Key, opts scheme.Options) ([]byte, error) {
	to, err := readEntity(pub.KeyData)
	if err != nil {
		return nil, fmt.Errorf("openpgp: parsing recipient key: %w", err)
	}
	// Imported keys may advertise no preferred hashes either.
	preferSHA256(to)

	var signer *openpgp.Entity
	if opts.SignWith != nil {
		signer, err = s.unlockedEntity(*opts.SignWith, opts.Passphrase)
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return nil, fmt.Errorf("openpgp: armoring message: %w", err)
	}
	pt, err := openpgp.Encrypt(aw, []*openpgp.Entity{to}, signer, nil, s.config)
	if err != nil {
		return nil, fmt.Errorf("openpgp: encrypting: %w", err)
	}
	if _, err := pt.Write(data); err != nil {
		return nil, fmt.Errorf("openpgp: encrypting: %w", err)
	}
	if err := pt.Close(); err != nil {
		return nil, fmt.Errorf("openpgp: encrypting: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("openpgp: armoring message: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt decrypts data with priv. With opts.VerifyWith set the message must
// carry a valid signature by that key.
func (s *Scheme) Decrypt(ctx context.Context, data []byte, priv keys.Key, opts scheme.Options) ([]byte, error) {
	entity, err := s.unlockedEntity(priv, opts.Passphrase)
	if err != nil {
		return nil, err
	}

	keyring := openpgp.EntityList{entity}
	var verifier *openpgp.Entity
	if opts.VerifyWith != nil {
		verifier, err = readEntity(opts.VerifyWith.KeyData)
		if err != nil {
			return nil, fmt.Errorf("openpgp: parsing verification key: %w", err)
		}
		keyring = append(keyring, verifier)
	}

	block, err := armor.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("openpgp: decoding message armor: %w", err)
	}
	md, err := openpgp.ReadMessage(block.Body, keyring, nil, s.config)
	if err != nil {
		return nil, fmt.Errorf("openpgp: reading message: %w", err)
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("openpgp: reading message body: %w", err)
	}

	// Signature state is only final once the body has been fully read. The
	// keyring also holds the decrypting entity, so the signing key must be
	// matched against the verifier explicitly.
	if opts.VerifyWith != nil {
		if !md.IsSigned || md.SignedBy == nil || md.SignatureError != nil || !entityOwns(verifier, md.SignedBy) {
			return nil, fmt.Errorf("%w: message signature did not validate for %s",
				scheme.ErrInvalidSignature, opts.VerifyWith.Address)
		}
	}
	return plaintext, nil
}

// Sign returns a clearsigned bundle over data.
func (s *Scheme) Sign(ctx context.Context, data []byte, priv keys.Key) ([]byte, error) {
	entity, err := s.unlockedEntity(priv, "")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	pt, err := clearsign.Encode(&buf, entity.PrivateKey, s.config)
	if err != nil {
		return nil, fmt.Errorf("openpgp: signing: %w", err)
	}
	if _, err := pt.Write(data); err != nil {
		return nil, fmt.Errorf("openpgp: signing: %w", err)
	}
	if err := pt.Close(); err != nil {
		return nil, fmt.Errorf("openpgp: signing: %w", err)
	}
	return buf.Bytes(), nil
}

// Verify checks a clearsigned bundle against pub and returns the signed text.
func (s *Scheme) Verify(ctx context.Context, signed []byte, pub keys.Key) ([]byte, error) {
	verifier, err := readEntity(pub.KeyData)
	if err != nil {
		return nil, fmt.Errorf("openpgp: parsing verification key: %w", err)
	}

	block, _ := clearsign.Decode(signed)
	if block == nil {
		return nil, fmt.Errorf("%w: no clearsigned block found", scheme.ErrInvalidSignature)
	}
	_, err = openpgp.CheckDetachedSignature(
		openpgp.EntityList{verifier},
		bytes.NewReader(block.Bytes),
		block.ArmoredSignature.Body,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scheme.ErrInvalidSignature, err)
	}
	return block.Plaintext, nil
}

// unlockedEntity parses private key material and decrypts it with the
// passphrase if the serialization is locked.
func (s *Scheme) unlockedEntity(key keys.Key, passphrase string) (*openpgp.Entity, error) {
	entity, err := readEntity(key.KeyData)
	if err != nil {
		return nil, fmt.Errorf("openpgp: parsing private key: %w", err)
	}
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("openpgp: key material for %s carries no private key", key.Address)
	}
	if entity.PrivateKey.Encrypted {
		if passphrase == "" {
			return nil, fmt.Errorf("%w: private key for %s is locked", scheme.ErrNoPassphrase, key.Address)
		}
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return nil, fmt.Errorf("openpgp: unlocking private key: %w", err)
		}
	}
	for i := range entity.Subkeys {
		sk := &entity.Subkeys[i]
		if sk.PrivateKey != nil && sk.PrivateKey.Encrypted {
			if passphrase == "" {
				return nil, fmt.Errorf("%w: private subkey for %s is locked", scheme.ErrNoPassphrase, key.Address)
			}
			if err := sk.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("openpgp: unlocking private subkey: %w", err)
			}
		}
	}
	return entity, nil
}

// preferSHA256 sets SHA-256 as the advertised hash on every identity that
// does not name any.
func preferSHA256(entity *openpgp.Entity) {
	for _, id := range entity.Identities {
		if id.SelfSignature != nil && len(id.SelfSignature.PreferredHash) == 0 {
			id.SelfSignature.PreferredHash = []uint8{hashSHA256}
		}
	}
}

// entityOwns reports whether key belongs to entity, checking the primary key
// and every subkey.
func entityOwns(entity *openpgp.Entity, key *openpgp.Key) bool {
	if key.PublicKey == nil {
		return false
	}
	if key.PublicKey.Fingerprint == entity.PrimaryKey.Fingerprint {
		return true
	}
	for _, sk := range entity.Subkeys {
		if sk.PublicKey != nil && key.PublicKey.Fingerprint == sk.PublicKey.Fingerprint {
			return true
		}
	}
	return false
}

// readEntity parses the first entity of an armored keyring.
func readEntity(material []byte) (*openpgp.Entity, error) {
	el, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(material))
	if err != nil {
		return nil, err
	}
	if len(el) == 0 {
		return nil, fmt.Errorf("no key found in armored material")
	}
	return el[0], nil
}
