package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/munkey/munkeyd/internal/kv"
	sqliteengine "github.com/munkey/munkeyd/internal/kv/sqlite"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) kv.Provider {
	t.Helper()
	eng, err := sqliteengine.New(kv.Config{RootDir: t.TempDir(), Name: "alpha"})
	require.NoError(t, err)
	return eng
}

func TestPutGetAttachmentRoundTrip(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	rev, err := eng.PutAttachment(ctx, "vault", "passwords", "", []byte("envelope-bytes"), "text/plain")
	require.NoError(t, err)
	require.NotEmpty(t, rev)

	data, mime, gotRev, err := eng.GetAttachment(ctx, "vault", "passwords")
	require.NoError(t, err)
	require.Equal(t, []byte("envelope-bytes"), data)
	require.Equal(t, "text/plain", mime)
	require.Equal(t, rev, gotRev)
}

func TestPutAttachmentConflictOnStaleRev(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	_, err := eng.PutAttachment(ctx, "vault", "passwords", "", []byte("v1"), "text/plain")
	require.NoError(t, err)

	_, err = eng.PutAttachment(ctx, "vault", "passwords", "not-the-rev", []byte("v2"), "text/plain")
	require.ErrorIs(t, err, kv.ErrConflict)
}

func TestRemoveRollsBackRevision(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	rev, err := eng.PutAttachment(ctx, "vault", "passwords", "", []byte("v1"), "text/plain")
	require.NoError(t, err)

	require.NoError(t, eng.Remove(ctx, "vault", rev))

	_, _, _, err = eng.GetAttachment(ctx, "vault", "passwords")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestChangesTracksSeq(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	_, err := eng.PutAttachment(ctx, "vault", "passwords", "", []byte("v1"), "text/plain")
	require.NoError(t, err)

	changes, lastSeq, err := eng.Changes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "vault", changes[0].DocID)
	require.Equal(t, uint64(1), lastSeq)
}

func TestNewCreatesStoreFileUnderRoot(t *testing.T) {
	root := t.TempDir()
	_, err := sqliteengine.New(kv.Config{RootDir: root, Name: "alpha"})
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(root, "munkey", "alpha", "store.db"))
}
