package vault_test

import (
	"context"
	"testing"

	"github.com/munkey/munkeyd/internal/kv"
	"github.com/munkey/munkeyd/internal/kv/memory"
	"github.com/munkey/munkeyd/internal/vault"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) kv.Provider {
	t.Helper()
	store, err := memory.New(kv.Config{Name: "alpha"})
	require.NoError(t, err)
	return store
}

func TestCreateWritesInitialBytesOnce(t *testing.T) {
	store := newStore(t)
	v, err := vault.Create("id-1", "alpha", store, []byte("envelope-v1"))
	require.NoError(t, err)
	require.Equal(t, []byte("envelope-v1"), v.GetContent(context.Background()))
}

func TestCreateLeavesExistingContentUntouched(t *testing.T) {
	store := newStore(t)
	_, err := store.PutAttachment(context.Background(), "vault", "passwords", "", []byte("pre-existing"), "text/plain")
	require.NoError(t, err)

	v, err := vault.Create("id-1", "alpha", store, []byte("should-not-write"))
	require.NoError(t, err)
	require.Equal(t, []byte("pre-existing"), v.GetContent(context.Background()))
}

func TestInitializeReturnsFalseWhenAlreadyPresent(t *testing.T) {
	store := newStore(t)
	v := vault.New("id-1", "alpha", store)

	ok, err := v.Initialize([]byte("first"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Initialize([]byte("second"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []byte("first"), v.GetContent(context.Background()))
}

func TestSetContentCreatesThenUpdates(t *testing.T) {
	store := newStore(t)
	v := vault.New("id-1", "alpha", store)

	require.NoError(t, v.SetContent(context.Background(), []byte("v1")))
	require.Equal(t, []byte("v1"), v.GetContent(context.Background()))

	require.NoError(t, v.SetContent(context.Background(), []byte("v2")))
	require.Equal(t, []byte("v2"), v.GetContent(context.Background()))
}

func TestGetContentReturnsNilWhenAbsent(t *testing.T) {
	store := newStore(t)
	v := vault.New("id-1", "alpha", store)
	require.Nil(t, v.GetContent(context.Background()))
}

func TestDestroyClearsUnderlyingStore(t *testing.T) {
	store := newStore(t)
	v, err := vault.Create("id-1", "alpha", store, []byte("v1"))
	require.NoError(t, err)

	require.NoError(t, v.Destroy(context.Background()))
	require.Nil(t, v.GetContent(context.Background()))
}
