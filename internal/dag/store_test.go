package dag_test

import (
	"context"
	"testing"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/pkg/merkle"
)

// fakeApplier deterministically "applies" a delta by hashing its ID into
// a fresh root hash, recording every call for assertions.
type fakeApplier struct {
	calls []dag.Delta
	merges []bool
	fail  map[dag.DeltaID]error
}

func (f *fakeApplier) Apply(ctx context.Context, contextID string, d dag.Delta, merge bool) (merkle.Hash, []byte, error) {
	f.calls = append(f.calls, d)
	f.merges = append(f.merges, merge)
	if f.fail != nil {
		if err, ok := f.fail[d.ID]; ok {
			return merkle.Hash{}, nil, err
		}
	}
	return merkle.OwnHashOf(d.ID[:]), nil, nil
}

func id(b byte) dag.DeltaID {
	var h dag.DeltaID
	h[0] = b
	return h
}

func TestAddDelta_GenesisAppliesImmediately(t *testing.T) {
	applier := &fakeApplier{}
	store := dag.New("ctx-1", applier)

	d := dag.Delta{ID: id(1)}
	applied, cascaded, err := store.AddDelta(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Empty(t, cascaded)
	assert.True(t, store.IsApplied(d.ID))
	assert.ElementsMatch(t, []dag.DeltaID{id(1)}, store.GetHeads())
}

func TestAddDelta_BuffersUntilParentSatisfied(t *testing.T) {
	applier := &fakeApplier{}
	store := dag.New("ctx-1", applier)

	child := dag.Delta{ID: id(2), Parents: []dag.DeltaID{id(1)}}
	applied, _, err := store.AddDelta(context.Background(), child)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, store.HasDelta(id(2)))
	assert.False(t, store.IsApplied(id(2)))
	assert.Equal(t, 1, store.PendingCount())

	parent := dag.Delta{ID: id(1)}
	applied, cascaded, err := store.AddDelta(context.Background(), parent)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.ElementsMatch(t, []dag.DeltaID{id(2)}, cascaded)
	assert.True(t, store.IsApplied(id(2)))
	assert.Equal(t, 0, store.PendingCount())
	assert.ElementsMatch(t, []dag.DeltaID{id(2)}, store.GetHeads())
}

func TestAddDelta_CascadesMultipleGenerations(t *testing.T) {
	applier := &fakeApplier{}
	store := dag.New("ctx-1", applier)
	ctx := context.Background()

	grandchild := dag.Delta{ID: id(3), Parents: []dag.DeltaID{id(2)}}
	child := dag.Delta{ID: id(2), Parents: []dag.DeltaID{id(1)}}
	_, _, err := store.AddDelta(ctx, grandchild)
	require.NoError(t, err)
	_, _, err = store.AddDelta(ctx, child)
	require.NoError(t, err)

	parent := dag.Delta{ID: id(1)}
	_, cascaded, err := store.AddDelta(ctx, parent)
	require.NoError(t, err)
	assert.ElementsMatch(t, []dag.DeltaID{id(2), id(3)}, cascaded)
	assert.True(t, store.IsApplied(id(3)))
	assert.ElementsMatch(t, []dag.DeltaID{id(3)}, store.GetHeads())
}

func TestIsMerge_ConcurrentSiblingForcesMergePath(t *testing.T) {
	applier := &fakeApplier{}
	store := dag.New("ctx-1", applier)
	ctx := context.Background()

	root := dag.Delta{ID: id(1)}
	_, _, err := store.AddDelta(ctx, root)
	require.NoError(t, err)

	siblingA := dag.Delta{ID: id(2), Parents: []dag.DeltaID{id(1)}}
	siblingB := dag.Delta{ID: id(3), Parents: []dag.DeltaID{id(1)}}
	_, _, err = store.AddDelta(ctx, siblingA)
	require.NoError(t, err)
	_, _, err = store.AddDelta(ctx, siblingB)
	require.NoError(t, err)

	// siblingA applied sequentially (root was still a head); siblingB's
	// parent (id(1)) is no longer a head once siblingA applied, so it
	// must take the merge path.
	require.Len(t, applier.calls, 3)
	assert.False(t, applier.merges[1], "first sibling should apply sequentially")
	assert.True(t, applier.merges[2], "second sibling must detect concurrent divergence")
}

func TestGetMissingParents(t *testing.T) {
	applier := &fakeApplier{}
	store := dag.New("ctx-1", applier)
	ctx := context.Background()

	_, _, err := store.AddDelta(ctx, dag.Delta{ID: id(3), Parents: []dag.DeltaID{id(2)}})
	require.NoError(t, err)

	missing := store.GetMissingParents(10)
	assert.ElementsMatch(t, []dag.DeltaID{id(2)}, missing)
}

func TestCleanupStale(t *testing.T) {
	applier := &fakeApplier{}
	store := dag.New("ctx-1", applier)
	ctx := context.Background()

	_, _, err := store.AddDelta(ctx, dag.Delta{ID: id(2), Parents: []dag.DeltaID{id(1)}})
	require.NoError(t, err)

	evicted := store.CleanupStale(0)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, store.PendingCount())
}

func TestRestoreAppliedDelta_FailsIfParentsMissing(t *testing.T) {
	applier := &fakeApplier{}
	store := dag.New("ctx-1", applier)

	ok := store.RestoreAppliedDelta(dag.Delta{ID: id(2), Parents: []dag.DeltaID{id(1)}}, merkle.Hash{})
	assert.False(t, ok)

	ok = store.RestoreAppliedDelta(dag.Delta{ID: id(1)}, merkle.Hash{9})
	assert.True(t, ok)
	assert.True(t, store.IsApplied(id(1)))
	assert.Empty(t, applier.calls, "restore must not invoke the Applier")
}

func TestGetDeltasNotInBloom(t *testing.T) {
	applier := &fakeApplier{}
	store := dag.New("ctx-1", applier)
	ctx := context.Background()

	_, _, err := store.AddDelta(ctx, dag.Delta{ID: id(1)})
	require.NoError(t, err)
	_, _, err = store.AddDelta(ctx, dag.Delta{ID: id(2), Parents: []dag.DeltaID{id(1)}})
	require.NoError(t, err)

	filter := bloom.NewWithEstimates(10, 0.01)
	known := id(1)
	filter.Add(known[:])

	missing := store.GetDeltasNotInBloom(filter)
	require.Len(t, missing, 1)
	assert.Equal(t, id(2), missing[0].ID)
}

func TestTopoSort_OrdersAncestorsFirst(t *testing.T) {
	d3 := dag.Delta{ID: id(3), Parents: []dag.DeltaID{id(2)}}
	d2 := dag.Delta{ID: id(2), Parents: []dag.DeltaID{id(1)}}
	d1 := dag.Delta{ID: id(1)}

	ordered := dag.TopoSort([]dag.Delta{d3, d1, d2})
	require.Len(t, ordered, 3)
	assert.Equal(t, id(1), ordered[0].ID)
	assert.Equal(t, id(2), ordered[1].ID)
	assert.Equal(t, id(3), ordered[2].ID)
}

func TestAddDelta_RetriableFailureStaysPending(t *testing.T) {
	applier := &fakeApplier{fail: map[dag.DeltaID]error{id(1): errRetriableForTest{}}}
	store := dag.New("ctx-1", applier)

	applied, _, err := store.AddDelta(context.Background(), dag.Delta{ID: id(1)})
	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, store.HasDelta(id(1)))
	assert.False(t, store.IsApplied(id(1)))
}

type errRetriableForTest struct{}

func (errRetriableForTest) Error() string { return "application not available" }

func (errRetriableForTest) Is(target error) bool {
	return target.Error() == "application not available"
}
