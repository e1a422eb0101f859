package crdt_test

import (
	"testing"

	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/crdt"
	"github.com/calimero-network/core/pkg/hlc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLwwRegister(t *testing.T) {
	node1, node2 := "node1", "node2"
	clock := hlc.New(node1)

	t.Run("NewIsEmpty", func(t *testing.T) {
		reg := crdt.NewLwwRegister(node1)
		assert.Nil(t, reg.Get())
	})

	t.Run("SetAndGet", func(t *testing.T) {
		reg := crdt.NewLwwRegister(node1)
		reg.Set("entity-1", []byte("test value"), clock.Now())
		assert.Equal(t, []byte("test value"), reg.Get())
	})

	t.Run("MergePrefersLaterTimestamp", func(t *testing.T) {
		reg1 := crdt.NewLwwRegister(node1)
		reg2 := crdt.NewLwwRegister(node1)

		reg1.Set("e", []byte("old value"), clock.Now())
		reg2.Set("e", []byte("new value"), clock.Now())

		require.NoError(t, reg1.Merge(reg2))
		assert.Equal(t, []byte("new value"), reg1.Get())
	})

	t.Run("MergeSameTimestampTiesOnNodeID", func(t *testing.T) {
		ts := clock.Now()
		reg1 := crdt.NewLwwRegister(node1)
		reg2 := crdt.NewLwwRegister(node2)
		reg1.Set("e", []byte("from node1"), ts)
		reg2.Set("e", []byte("from node2"), ts)

		require.NoError(t, reg1.Merge(reg2))

		expected := []byte("from node2")
		if node1 > node2 {
			expected = []byte("from node1")
		}
		assert.Equal(t, expected, reg1.Get())
	})

	t.Run("MarshalUnmarshalRoundTrip", func(t *testing.T) {
		reg1 := crdt.NewLwwRegister(node1)
		reg1.Set("e", []byte("test value"), clock.Now())

		data, err := reg1.Marshal()
		require.NoError(t, err)

		reg2 := crdt.NewLwwRegister("")
		require.NoError(t, reg2.Unmarshal(data))
		assert.Equal(t, reg1.Get(), reg2.Get())
	})

	t.Run("IncompatibleMergeIsRejected", func(t *testing.T) {
		reg := crdt.NewLwwRegister(node1)
		counter := crdt.NewPNCounter(node1)

		err := reg.Merge(counter)
		require.Error(t, err)
		assert.Equal(t, calerr.KindInvalidAction, calerr.Classify(err))
	})
}
