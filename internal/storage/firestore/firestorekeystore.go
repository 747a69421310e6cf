// Package firestore provides a key store implementation using Google Cloud
// Firestore. Each key occupies one document keyed by its canonical
// (type, role, address) coordinate.
package firestore

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nicknym/go-keymanager/pkg/keys"
	"github.com/nicknym/go-keymanager/pkg/keystore"
)

// keyDocument is the structure stored in a Firestore document. The type and
// role fields are duplicated from the document ID so that ByRole can query
// without parsing IDs.
type keyDocument struct {
	Address     string `firestore:"address"`
	Type        string `firestore:"type"`
	Private     bool   `firestore:"private"`
	Fingerprint string `firestore:"fingerprint"`
	KeyData     []byte `firestore:"keyData"`
}

// Store is a concrete implementation of the keystore.Store interface using
// Firestore.
type Store struct {
	client     *firestore.Client
	collection *firestore.CollectionRef
	logger     *slog.Logger
}

// New creates a new Firestore-backed store.
func New(client *firestore.Client, collectionName string, logger *slog.Logger) *Store {
	return &Store{
		client:     client,
		collection: client.Collection(collectionName),
		logger:     logger.With("component", "firestore_store", "collection", collectionName),
	}
}

// docID is the canonical document key for a (type, role, address) coordinate.
func docID(typ keys.Type, address string, private bool) string {
	role := "public"
	if private {
		role = "private"
	}
	return fmt.Sprintf("%s:%s:%s", typ, role, address)
}

// Put creates or overwrites the document holding the key.
func (s *Store) Put(ctx context.Context, key keys.Key) error {
	id := docID(key.Type, key.Address, key.Private)
	s.logger.Debug("Storing key", "doc", id)

	_, err := s.collection.Doc(id).Set(ctx, keyDocument{
		Address:     key.Address,
		Type:        string(key.Type),
		Private:     key.Private,
		Fingerprint: key.Fingerprint,
		KeyData:     key.KeyData,
	})
	if err != nil {
		s.logger.Error("Failed to store key", "doc", id, "err", err)
		return fmt.Errorf("failed to store key %s: %w", id, err)
	}
	return nil
}

// Get retrieves a key document, mapping Firestore's NotFound onto
// keystore.ErrNotFound.
func (s *Store) Get(ctx context.Context, typ keys.Type, address string, private bool) (keys.Key, error) {
	id := docID(typ, address, private)

	doc, err := s.collection.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Debug("Key not found", "doc", id)
			return keys.Key{}, fmt.Errorf("%w: no %s key for %s", keystore.ErrNotFound, typ, address)
		}
		s.logger.Warn("Failed to get key document", "doc", id, "err", err)
		return keys.Key{}, fmt.Errorf("failed to get key %s: %w", id, err)
	}

	var kd keyDocument
	if err := doc.DataTo(&kd); err != nil {
		s.logger.Error("Failed to parse key document", "doc", id, "err", err)
		return keys.Key{}, fmt.Errorf("failed to parse key document %s: %w", id, err)
	}
	return keyFromDocument(kd), nil
}

// ByRole queries every key document with the given role.
func (s *Store) ByRole(ctx context.Context, private bool) ([]keys.Key, error) {
	docs, err := s.collection.Where("private", "==", private).Documents(ctx).GetAll()
	if err != nil {
		s.logger.Warn("Failed to enumerate keys by role", "private", private, "err", err)
		return nil, fmt.Errorf("failed to enumerate keys: %w", err)
	}

	out := make([]keys.Key, 0, len(docs))
	for _, doc := range docs {
		var kd keyDocument
		if err := doc.DataTo(&kd); err != nil {
			s.logger.Error("Failed to parse key document", "doc", doc.Ref.ID, "err", err)
			return nil, fmt.Errorf("failed to parse key document %s: %w", doc.Ref.ID, err)
		}
		out = append(out, keyFromDocument(kd))
	}
	return out, nil
}

func keyFromDocument(kd keyDocument) keys.Key {
	return keys.Key{
		Address:     kd.Address,
		Type:        keys.Type(kd.Type),
		Private:     kd.Private,
		Fingerprint: kd.Fingerprint,
		KeyData:     kd.KeyData,
	}
}
