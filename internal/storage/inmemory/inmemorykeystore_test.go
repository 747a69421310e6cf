package inmemory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicknym/go-keymanager/internal/storage/inmemory"
	"github.com/nicknym/go-keymanager/pkg/keys"
	"github.com/nicknym/go-keymanager/pkg/keystore"
)

// setupSuite initializes a new in-memory Store for testing.
func setupSuite(t *testing.T) (context.Context, keystore.Store) {
	t.Helper()
	store := inmemory.New()
	return context.Background(), store
}

func TestInMemoryStore_PutGet(t *testing.T) {
	ctx, store := setupSuite(t)

	// Arrange
	pub := keys.Key{
		Address:     "alice@example.org",
		Type:        keys.OpenPGP,
		Private:     false,
		Fingerprint: "AAAA",
		KeyData:     []byte("alice-public-key"),
	}
	priv := keys.Key{
		Address:     "alice@example.org",
		Type:        keys.OpenPGP,
		Private:     true,
		Fingerprint: "AAAA",
		KeyData:     []byte("alice-private-key"),
	}

	// Act & Assert: store and retrieve both roles independently
	require.NoError(t, store.Put(ctx, pub))
	require.NoError(t, store.Put(ctx, priv))

	gotPub, err := store.Get(ctx, keys.OpenPGP, "alice@example.org", false)
	require.NoError(t, err)
	assert.Equal(t, pub, gotPub)

	gotPriv, err := store.Get(ctx, keys.OpenPGP, "alice@example.org", true)
	require.NoError(t, err)
	assert.Equal(t, priv, gotPriv)

	// Act & Assert: a different type is a distinct coordinate
	_, err = store.Get(ctx, keys.JOSE, "alice@example.org", false)
	assert.ErrorIs(t, err, keystore.ErrNotFound)

	// Act & Assert: miss on unknown address
	_, err = store.Get(ctx, keys.OpenPGP, "nobody@example.org", false)
	assert.ErrorIs(t, err, keystore.ErrNotFound)
	assert.True(t, keystore.IsNotFound(err))
}

func TestInMemoryStore_PutOverwrites(t *testing.T) {
	ctx, store := setupSuite(t)

	key := keys.Key{Address: "a@example.org", Type: keys.OpenPGP, KeyData: []byte("v1")}
	require.NoError(t, store.Put(ctx, key))

	key.KeyData = []byte("v2")
	require.NoError(t, store.Put(ctx, key))

	got, err := store.Get(ctx, keys.OpenPGP, "a@example.org", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.KeyData)
}

func TestInMemoryStore_ByRole(t *testing.T) {
	ctx, store := setupSuite(t)

	// Arrange: two public keys for different addresses/types, one private
	require.NoError(t, store.Put(ctx, keys.Key{Address: "a@example.org", Type: keys.OpenPGP, KeyData: []byte("a")}))
	require.NoError(t, store.Put(ctx, keys.Key{Address: "b@example.org", Type: keys.JOSE, KeyData: []byte("b")}))
	require.NoError(t, store.Put(ctx, keys.Key{Address: "a@example.org", Type: keys.OpenPGP, Private: true, KeyData: []byte("a-priv")}))

	// Act
	public, err := store.ByRole(ctx, false)
	require.NoError(t, err)
	private, err := store.ByRole(ctx, true)
	require.NoError(t, err)

	// Assert
	assert.Len(t, public, 2)
	require.Len(t, private, 1)
	assert.Equal(t, "a@example.org", private[0].Address)

	addresses := make([]string, 0, len(public))
	for _, k := range public {
		assert.False(t, k.Private)
		addresses = append(addresses, k.Address)
	}
	assert.ElementsMatch(t, []string{"a@example.org", "b@example.org"}, addresses)
}
