package adminstore_test

import (
	"context"
	"testing"

	"github.com/munkey/munkeyd/internal/adminstore"
	"github.com/stretchr/testify/require"
)

func TestAllIsEmptyOnFreshStore(t *testing.T) {
	store, err := adminstore.Open(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, store.All(context.Background()))
}

func TestRecordIsIdempotentByID(t *testing.T) {
	store, err := adminstore.Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "alpha", "id-1"))
	require.NoError(t, store.Record(ctx, "alpha-again", "id-1"))

	entries := store.All(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, "alpha", entries[0].Name)
}

func TestRoundTripAcrossRestart(t *testing.T) {
	root := t.TempDir()

	first, err := adminstore.Open(root)
	require.NoError(t, err)
	require.NoError(t, first.Record(context.Background(), "alpha", "id-1"))
	require.NoError(t, first.Record(context.Background(), "beta", "id-2"))

	second, err := adminstore.Open(root)
	require.NoError(t, err)
	entries := second.All(context.Background())

	require.ElementsMatch(t, []adminstore.Entry{
		{Name: "alpha", ID: "id-1"},
		{Name: "beta", ID: "id-2"},
	}, entries)
}
