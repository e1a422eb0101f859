package storage_test

import (
	"context"
	"testing"

	"github.com/calimero-network/core/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	s, err := storage.NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCRDTStore_RootHashChangesOnEntityUpdate(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)

	cs, err := storage.NewCRDTStore(ctx, base, "ctx-1", 4, 8)
	require.NoError(t, err)

	require.NoError(t, cs.PutEntity(ctx, "root", []byte("root-v1"), []string{"child"}))
	require.NoError(t, cs.PutEntity(ctx, "child", []byte("v1"), nil))
	before := cs.RootHash("root")

	require.NoError(t, cs.PutEntity(ctx, "child", []byte("v2"), nil))
	after := cs.RootHash("root")

	require.NotEqual(t, before, after)
}

func TestCRDTStore_CommitAndLoadState(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)

	cs, err := storage.NewCRDTStore(ctx, base, "ctx-1", 4, 8)
	require.NoError(t, err)
	require.NoError(t, cs.PutEntity(ctx, "root", []byte("v1"), nil))

	root, height, err := cs.Commit(ctx, "root")
	require.NoError(t, err)
	require.EqualValues(t, 0, height)

	loaded, err := cs.LoadState(ctx, height)
	require.NoError(t, err)
	require.Equal(t, root, loaded)
}

func TestCRDTStore_RebuildFromPersistedState(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)

	cs, err := storage.NewCRDTStore(ctx, base, "ctx-1", 4, 8)
	require.NoError(t, err)
	require.NoError(t, cs.PutEntity(ctx, "root", []byte("v1"), []string{"child"}))
	require.NoError(t, cs.PutEntity(ctx, "child", []byte("cv1"), nil))
	want := cs.RootHash("root")

	reloaded, err := storage.NewCRDTStore(ctx, base, "ctx-1", 4, 8)
	require.NoError(t, err)
	require.Equal(t, want, reloaded.RootHash("root"))
}
