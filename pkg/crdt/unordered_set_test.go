package crdt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/pkg/crdt"
	"github.com/calimero-network/core/pkg/hlc"
)

func TestUnorderedSet_AddThenContains(t *testing.T) {
	s := crdt.NewUnorderedSet("node-a")
	s.Add("entity-1", "apple", hlc.Timestamp{Physical: 1})
	assert.True(t, s.Contains("apple"))
	assert.Equal(t, []string{"apple"}, s.Elements())
}

func TestUnorderedSet_RemoveTombstonesObservedTags(t *testing.T) {
	s := crdt.NewUnorderedSet("node-a")
	s.Add("entity-1", "apple", hlc.Timestamp{Physical: 1})
	s.Remove("entity-1", "apple", hlc.Timestamp{Physical: 2})
	assert.False(t, s.Contains("apple"))
	assert.Empty(t, s.Elements())
}

// TestUnorderedSet_ConcurrentAddWinsOverRemove exercises the tombstone
// safety property (spec.md P10, generalized from LWW timestamps to
// add-wins tags): a remove only tombstones tags it has actually
// observed, so a concurrently minted add tag for the same element
// survives merge; the timestamps passed in play no part in the outcome.
func TestUnorderedSet_ConcurrentAddWinsOverRemove(t *testing.T) {
	replicaA := crdt.NewUnorderedSet("node-a")
	replicaB := crdt.NewUnorderedSet("node-b")

	replicaA.Add("entity-1", "apple", hlc.Timestamp{Physical: 1})
	require.NoError(t, replicaB.Merge(replicaA))
	replicaB.Remove("entity-1", "apple", hlc.Timestamp{Physical: 2})

	// Concurrently, A mints a fresh add tag for the same element that B's
	// remove never saw.
	replicaA.Add("entity-1", "apple", hlc.Timestamp{Physical: 3})

	require.NoError(t, replicaA.Merge(replicaB))
	require.NoError(t, replicaB.Merge(replicaA))

	assert.True(t, replicaA.Contains("apple"), "concurrent add must win over a remove that never observed its tag")
	assert.True(t, replicaB.Contains("apple"))
}

func TestUnorderedSet_MarshalUnmarshalRoundTrip(t *testing.T) {
	s := crdt.NewUnorderedSet("node-a")
	s.Add("entity-1", "apple", hlc.Timestamp{Physical: 1})
	s.Add("entity-1", "banana", hlc.Timestamp{Physical: 2})
	s.Remove("entity-1", "apple", hlc.Timestamp{Physical: 3})

	data, err := s.Marshal()
	require.NoError(t, err)

	restored := crdt.NewUnorderedSet("")
	require.NoError(t, restored.Unmarshal(data))
	assert.ElementsMatch(t, []string{"banana"}, restored.Elements())
}
