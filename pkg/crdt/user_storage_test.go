package crdt_test

import (
	"testing"

	"github.com/calimero-network/core/pkg/crdt"
	"github.com/calimero-network/core/pkg/hlc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStorage_NamespacesByIdentity(t *testing.T) {
	clock := hlc.New("node-1")
	us := crdt.NewUserStorage("node-1")

	us.Put("e", "alice", "pref", []byte("dark-mode"), clock.Now())
	us.Put("e", "bob", "pref", []byte("light-mode"), clock.Now())

	alicePref, ok := us.Get("alice", "pref")
	require.True(t, ok)
	assert.Equal(t, []byte("dark-mode"), alicePref)

	bobPref, ok := us.Get("bob", "pref")
	require.True(t, ok)
	assert.Equal(t, []byte("light-mode"), bobPref)
}

func TestUserStorage_DeleteOnlyAffectsOwnNamespace(t *testing.T) {
	clock := hlc.New("node-1")
	us := crdt.NewUserStorage("node-1")

	us.Put("e", "alice", "k", []byte("v"), clock.Now())
	us.Put("e", "bob", "k", []byte("v"), clock.Now())
	us.Delete("e", "alice", "k", clock.Now())

	_, ok := us.Get("alice", "k")
	assert.False(t, ok)
	_, ok = us.Get("bob", "k")
	assert.True(t, ok)
}
