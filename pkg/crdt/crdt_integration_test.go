package crdt_test

import (
	"testing"

	"github.com/calimero-network/core/pkg/crdt"
	"github.com/calimero-network/core/pkg/hlc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threeWayMerge merges b and c into a, then a into b and a into c, the
// pattern every CRDT in this package must satisfy to converge regardless
// of gossip order.
func threeWayMerge(t *testing.T, a, b, c crdt.CRDT) {
	t.Helper()
	require.NoError(t, a.Merge(b))
	require.NoError(t, a.Merge(c))
	require.NoError(t, b.Merge(a))
	require.NoError(t, c.Merge(a))
}

func TestCRDTs_ThreeReplicaConvergence(t *testing.T) {
	clock := hlc.New("node-1")

	t.Run("LwwRegister", func(t *testing.T) {
		r1 := crdt.NewLwwRegister("node-1")
		r2 := crdt.NewLwwRegister("node-2")
		r3 := crdt.NewLwwRegister("node-3")

		r1.Set("e", []byte("v1"), clock.Now())
		r2.Set("e", []byte("v2"), clock.Now())
		r3.Set("e", []byte("v3"), clock.Now())

		threeWayMerge(t, r1, r2, r3)
		assert.Equal(t, r1.Get(), r2.Get())
		assert.Equal(t, r2.Get(), r3.Get())
		assert.Equal(t, []byte("v3"), r1.Get())
	})

	t.Run("GCounter", func(t *testing.T) {
		c1 := crdt.NewGCounter("node-1")
		c2 := crdt.NewGCounter("node-2")
		c3 := crdt.NewGCounter("node-3")

		c1.Increment("e", 5, clock.Now())
		c2.Increment("e", 3, clock.Now())
		c3.Increment("e", 7, clock.Now())

		threeWayMerge(t, c1, c2, c3)
		assert.EqualValues(t, 15, c1.Value())
		assert.Equal(t, c1.Value(), c2.Value())
		assert.Equal(t, c2.Value(), c3.Value())
	})

	t.Run("UnorderedSet_ConcurrentAddWinsOverRemove", func(t *testing.T) {
		s1 := crdt.NewUnorderedSet("node-1")
		s2 := crdt.NewUnorderedSet("node-2")

		s1.Add("e", "apple", clock.Now())
		// s2 only learns of "apple" through merge, then both replicas race:
		// s1 removes while s2 (seeing the same tag) re-adds concurrently.
		require.NoError(t, s2.Merge(s1))
		s1.Remove("e", "apple", clock.Now())
		s2.Add("e", "apple", clock.Now())

		require.NoError(t, s1.Merge(s2))
		require.NoError(t, s2.Merge(s1))
		assert.True(t, s1.Contains("apple"), "concurrent add must win over a racing remove")
		assert.True(t, s2.Contains("apple"))
	})

	t.Run("UnorderedMap_PerKeyConvergence", func(t *testing.T) {
		m1 := crdt.NewUnorderedMap("node-1")
		m2 := crdt.NewUnorderedMap("node-2")

		m1.Put("e", "a", []byte("1"), clock.Now())
		m2.Put("e", "b", []byte("2"), clock.Now())

		require.NoError(t, m1.Merge(m2))
		require.NoError(t, m2.Merge(m1))

		va, _ := m1.Get("a")
		vb, _ := m2.Get("b")
		assert.Equal(t, []byte("1"), va)
		assert.Equal(t, []byte("2"), vb)
		assert.Equal(t, m1.Keys(), m2.Keys())
	})

	t.Run("RGA_ConcurrentInsertTieBreak", func(t *testing.T) {
		r1 := crdt.NewRGA("a-node")
		r2 := crdt.NewRGA("b-node")

		head, _ := r1.InsertAfter("e", crdt.PositionID{}, 'x', clock.Now())
		require.NoError(t, r2.Merge(r1))

		// Both replicas concurrently insert after the same anchor.
		_, act1 := r1.InsertAfter("e", head, 'A', clock.Now())
		_, act2 := r2.InsertAfter("e", head, 'B', clock.Now())
		_ = act1
		_ = act2

		require.NoError(t, r1.Merge(r2))
		require.NoError(t, r2.Merge(r1))
		assert.Equal(t, r1.Text(), r2.Text(), "replicas must converge on the same tie-break order")
	})

	t.Run("FrozenStorage_ContentAddressedMergeIsUnion", func(t *testing.T) {
		f1 := crdt.NewFrozenStorage()
		f2 := crdt.NewFrozenStorage()

		d1, _ := f1.Insert("e", []byte("payload-a"), clock.Now())
		d2, _ := f2.Insert("e", []byte("payload-b"), clock.Now())

		require.NoError(t, f1.Merge(f2))
		_, ok1 := f1.Get(d1)
		_, ok2 := f1.Get(d2)
		assert.True(t, ok1)
		assert.True(t, ok2)
	})
}
