package infra

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileKeyProviderRoundTrip(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	assert.False(t, provider.KeyExists())

	key, err := GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, keySize)

	require.NoError(t, provider.StoreKey(key))
	assert.True(t, provider.KeyExists())

	loaded, err := provider.GetKey()
	require.NoError(t, err)
	assert.Equal(t, key, loaded)
}

func TestFileKeyProviderRejectsWrongSize(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	assert.Error(t, provider.StoreKey([]byte("too short")))
}

func TestEnsureKeyIsStable(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())

	first, err := EnsureKey(provider)
	require.NoError(t, err)

	second, err := EnsureKey(provider)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSecretStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "test.db"), zap.NewNop())
	require.NoError(t, err)

	key, err := EnsureKey(NewFileKeyProvider(dir))
	require.NoError(t, err)
	secrets, err := NewSecretStore(store, key)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = secrets.GetSecret(ctx, "authToken")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, secrets.SetSecret(ctx, "authToken", "tok-123"))
	value, err := secrets.GetSecret(ctx, "authToken")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", value)

	// Overwriting replaces the stored value.
	require.NoError(t, secrets.SetSecret(ctx, "authToken", "tok-456"))
	value, err = secrets.GetSecret(ctx, "authToken")
	require.NoError(t, err)
	assert.Equal(t, "tok-456", value)

	require.NoError(t, secrets.DeleteSecret(ctx, "authToken"))
	_, err = secrets.GetSecret(ctx, "authToken")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestSecretStoreRejectsWrongKey(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "test.db"), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	rightKey, err := GenerateKey()
	require.NoError(t, err)
	secrets, err := NewSecretStore(store, rightKey)
	require.NoError(t, err)
	require.NoError(t, secrets.SetSecret(ctx, "authToken", "tok-123"))

	wrongKey, err := GenerateKey()
	require.NoError(t, err)
	attacker, err := NewSecretStore(store, wrongKey)
	require.NoError(t, err)

	_, err = attacker.GetSecret(ctx, "authToken")
	assert.Error(t, err)
}
