package sync_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/storage"
	"github.com/calimero-network/core/internal/sync"
	"github.com/calimero-network/core/pkg/config"
	"github.com/calimero-network/core/pkg/merkle"
)

func newTestCRDTStore(t *testing.T) (*storage.CRDTStore, *storage.BadgerStore) {
	t.Helper()
	base, err := storage.NewBadgerStore(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	cs, err := storage.NewCRDTStore(context.Background(), base, "ctx-1", 4, 2)
	require.NoError(t, err)
	return cs, base
}

func TestMerkleCursor_SaveLoadRoundTrip(t *testing.T) {
	_, base := newTestCRDTStore(t)
	ctx := context.Background()
	boundaryRoot := merkle.Hash{1, 2, 3}

	cursor := sync.MerkleCursor{
		BoundaryRootHash: boundaryRoot,
		PendingLeafKeys:  []string{"a", "b"},
		CoveredRanges:    []string{"c"},
	}
	require.NoError(t, sync.SaveCursor(ctx, base, "ctx-1", cursor, 64*1024))

	loaded, ok := sync.LoadCursor(ctx, base, "ctx-1", boundaryRoot)
	require.True(t, ok)
	assert.Equal(t, cursor.PendingLeafKeys, loaded.PendingLeafKeys)
	assert.Equal(t, cursor.CoveredRanges, loaded.CoveredRanges)
}

func TestMerkleCursor_OverflowIsDropped(t *testing.T) {
	_, base := newTestCRDTStore(t)
	ctx := context.Background()
	boundaryRoot := merkle.Hash{9}

	big := make([]string, 10000)
	for i := range big {
		big[i] = "a-very-long-pending-leaf-key-to-inflate-cursor-size"
	}
	cursor := sync.MerkleCursor{BoundaryRootHash: boundaryRoot, PendingLeafKeys: big}
	require.NoError(t, sync.SaveCursor(ctx, base, "ctx-1", cursor, 64))

	_, ok := sync.LoadCursor(ctx, base, "ctx-1", boundaryRoot)
	assert.False(t, ok)
}

func TestMerkleCursor_LoadMissingReturnsNotFound(t *testing.T) {
	_, base := newTestCRDTStore(t)
	_, ok := sync.LoadCursor(context.Background(), base, "ctx-1", merkle.Hash{7})
	assert.False(t, ok)
}

func TestMerkleSyncState_DiffAndResolve(t *testing.T) {
	localIdx := merkle.NewEntityIndex()
	localIdx.Put(&merkle.Entity{ID: "a", OwnHash: merkle.OwnHashOf([]byte("a-v1"))})
	localTree := merkle.BuildTree(localIdx, 4, 1)

	remoteIdx := merkle.NewEntityIndex()
	remoteIdx.Put(&merkle.Entity{ID: "a", OwnHash: merkle.OwnHashOf([]byte("a-v2"))})
	remoteTree := merkle.BuildTree(remoteIdx, 4, 1)

	state := sync.NewMerkleSyncState(localTree, 16, nil)
	diverged := state.DiffAgainst(remoteTree)
	require.Len(t, diverged, 1)
	assert.False(t, state.Done())

	state.ResolveLeaf(diverged[0].StartKey)
	assert.True(t, state.Done())
}

func TestMerkleSync_RoundTrip_AppliesOnlyDivergentLeaves(t *testing.T) {
	ctx := context.Background()
	responderCS, _ := newTestCRDTStore(t)
	initiatorCS, _ := newTestCRDTStore(t)

	// Five entities over a chunk size of 2 yields three leaves (two
	// levels total), enough to exercise a NodeRequest round at depth 0
	// (root) and depth 1 (leaf level), not just a single-leaf tree.
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, responderCS.PutEntity(ctx, id, []byte(id+"-v1"), nil))
		require.NoError(t, initiatorCS.PutEntity(ctx, id, []byte(id+"-v1"), nil))
	}
	require.NoError(t, responderCS.PutEntity(ctx, "e", []byte("e-v2"), nil))
	require.NoError(t, initiatorCS.PutEntity(ctx, "e", []byte("e-v1"), nil))

	cfg := config.SyncConfig{}
	responder := sync.New("ctx-1", "root", dag.New("ctx-1", noopApplier{}), responderCS, nil, cfg)
	initiator := sync.New("ctx-1", "root", dag.New("ctx-1", noopApplier{}), initiatorCS, nil, cfg)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- responder.RespondMerkleSync(ctx, serverConn) }()

	state, err := initiator.InitiateMerkleSync(ctx, clientConn, 16, nil)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	assert.True(t, state.Done())

	got, err := initiatorCS.GetEntity(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, []byte("e-v2"), got)

	// Untouched entities outside the divergent leaf are left alone.
	unchanged, err := initiatorCS.GetEntity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("a-v1"), unchanged)
}

func TestEngine_ApplyLeaf_ReplacesKeyRange(t *testing.T) {
	cs, _ := newTestCRDTStore(t)
	ctx := context.Background()
	require.NoError(t, cs.PutEntity(ctx, "a", []byte("old"), nil))
	require.NoError(t, cs.PutEntity(ctx, "b", []byte("old"), nil))

	engine := sync.New("ctx-1", "root", dag.New("ctx-1", nil), cs, nil, config.SyncConfig{})
	leaf := &merkle.Leaf{StartKey: "a", EndKey: "b", Keys: []string{"a", "b"}}
	records := []sync.SnapshotRecord{{EntityID: "a", State: []byte("new")}}

	require.NoError(t, engine.ApplyLeaf(ctx, leaf, records))

	got, err := cs.GetEntity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}
