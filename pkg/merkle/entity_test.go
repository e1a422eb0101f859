package merkle

import "testing"

func TestFullHashChangesWithChild(t *testing.T) {
	idx := NewEntityIndex()
	idx.Put(&Entity{ID: "child", OwnHash: OwnHashOf([]byte("v1"))})
	idx.Put(&Entity{ID: "parent", OwnHash: OwnHashOf([]byte("p")), Children: []string{"child"}})

	before := idx.FullHash("parent")

	idx.Put(&Entity{ID: "child", OwnHash: OwnHashOf([]byte("v2"))})
	after := idx.FullHash("parent")

	if before == after {
		t.Fatal("full_hash must change when a child's own_hash changes")
	}
}

func TestFullHashStableUnderChildReordering(t *testing.T) {
	idx := NewEntityIndex()
	idx.Put(&Entity{ID: "a", OwnHash: OwnHashOf([]byte("a"))})
	idx.Put(&Entity{ID: "b", OwnHash: OwnHashOf([]byte("b"))})
	idx.Put(&Entity{ID: "p1", OwnHash: OwnHashOf([]byte("p")), Children: []string{"a", "b"}})
	idx.Put(&Entity{ID: "p2", OwnHash: OwnHashOf([]byte("p")), Children: []string{"b", "a"}})

	if idx.FullHash("p1") != idx.FullHash("p2") {
		t.Fatal("full_hash must not depend on child declaration order")
	}
}

func TestTombstoneInvalidatesAncestorHash(t *testing.T) {
	idx := NewEntityIndex()
	idx.Put(&Entity{ID: "child", OwnHash: OwnHashOf([]byte("v"))})
	idx.Put(&Entity{ID: "parent", OwnHash: OwnHashOf([]byte("p")), Children: []string{"child"}})
	before := idx.FullHash("parent")

	idx.Tombstone("child", 100)
	after := idx.FullHash("parent")

	if before == after {
		t.Fatal("tombstoning a child must change the ancestor's full_hash so sync detects the deletion")
	}
}
