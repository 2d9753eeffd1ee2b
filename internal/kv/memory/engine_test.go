package memory_test

import (
	"context"
	"testing"

	"github.com/munkey/munkeyd/internal/kv"
	"github.com/munkey/munkeyd/internal/kv/memory"
	"github.com/stretchr/testify/require"
)

func TestGetAttachmentNotFound(t *testing.T) {
	eng, err := memory.New(kv.Config{Name: "alpha"})
	require.NoError(t, err)

	_, _, _, err = eng.GetAttachment(context.Background(), "vault", "passwords")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestPutAttachmentCreatesWithoutRev(t *testing.T) {
	eng, err := memory.New(kv.Config{Name: "alpha"})
	require.NoError(t, err)
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

func TestPutAttachmentRejectsStaleRev(t *testing.T) {
	eng, err := memory.New(kv.Config{Name: "alpha"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = eng.PutAttachment(ctx, "vault", "passwords", "", []byte("v1"), "text/plain")
	require.NoError(t, err)

	_, err = eng.PutAttachment(ctx, "vault", "passwords", "stale-rev", []byte("v2"), "text/plain")
	require.ErrorIs(t, err, kv.ErrConflict)
}

func TestPutAttachmentRequiresRevWhenExists(t *testing.T) {
	eng, err := memory.New(kv.Config{Name: "alpha"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = eng.PutAttachment(ctx, "vault", "passwords", "", []byte("v1"), "text/plain")
	require.NoError(t, err)

	_, err = eng.PutAttachment(ctx, "vault", "passwords", "", []byte("v2"), "text/plain")
	require.ErrorIs(t, err, kv.ErrConflict)
}

func TestRemoveRollsBackRevision(t *testing.T) {
	eng, err := memory.New(kv.Config{Name: "alpha"})
	require.NoError(t, err)
	ctx := context.Background()

	rev, err := eng.PutAttachment(ctx, "vault", "passwords", "", []byte("v1"), "text/plain")
	require.NoError(t, err)

	require.NoError(t, eng.Remove(ctx, "vault", rev))

	_, _, _, err = eng.GetAttachment(ctx, "vault", "passwords")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestChangesReportsSinceSeq(t *testing.T) {
	eng, err := memory.New(kv.Config{Name: "alpha"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = eng.PutAttachment(ctx, "vault", "passwords", "", []byte("v1"), "text/plain")
	require.NoError(t, err)

	changes, lastSeq, err := eng.Changes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, uint64(1), lastSeq)

	changes, _, err = eng.Changes(ctx, lastSeq)
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestDestroyClearsState(t *testing.T) {
	eng, err := memory.New(kv.Config{Name: "alpha"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = eng.PutAttachment(ctx, "vault", "passwords", "", []byte("v1"), "text/plain")
	require.NoError(t, err)

	require.NoError(t, eng.Destroy(ctx))

	_, _, _, err = eng.GetAttachment(ctx, "vault", "passwords")
	require.ErrorIs(t, err, kv.ErrNotFound)
}
