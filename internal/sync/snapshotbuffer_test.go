package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/dag"
)

func deltaWithID(b byte) dag.Delta {
	var id dag.DeltaID
	id[0] = b
	return dag.Delta{ID: id}
}

func TestSnapshotBuffer_OffersNothingWhenInactive(t *testing.T) {
	var buf snapshotBuffer
	require.False(t, buf.offer(deltaWithID(1)))
}

func TestSnapshotBuffer_QueuesUpToCapThenFallsThrough(t *testing.T) {
	var buf snapshotBuffer
	buf.begin(2)

	assert.True(t, buf.offer(deltaWithID(1)))
	assert.True(t, buf.offer(deltaWithID(2)))
	// Cap reached: overflow falls through to the caller's normal path
	// instead of being dropped or erroring, per spec.md §4.5.2 step 4.
	assert.False(t, buf.offer(deltaWithID(3)))

	drained := buf.end()
	require.Len(t, drained, 2)
	assert.Equal(t, deltaWithID(1).ID, drained[0].ID)
	assert.Equal(t, deltaWithID(2).ID, drained[1].ID)
}

func TestSnapshotBuffer_EndDeactivatesAndClears(t *testing.T) {
	var buf snapshotBuffer
	buf.begin(5)
	require.True(t, buf.offer(deltaWithID(1)))

	first := buf.end()
	require.Len(t, first, 1)

	// No transfer active anymore: further offers fall through.
	assert.False(t, buf.offer(deltaWithID(2)))
	assert.Empty(t, buf.end())
}
