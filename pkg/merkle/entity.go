// Package merkle implements the per-entity Merkle index that lets any two
// replicas detect divergence without exchanging full state, and the
// chunked sync tree that Merkle-strategy sync walks to find exactly
// which entities differ.
package merkle

import (
	"crypto/sha256"
	"sort"
)

// Hash is a content digest: SHA-256 everywhere in this package.
type Hash [32]byte

func hashBytes(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Entity is one node of the per-context entity graph: its own content
// hash, plus the full_hash folding in every child's full_hash, so a
// single root full_hash changes iff anything beneath it changed.
type Entity struct {
	ID        string
	OwnHash   Hash
	Children  []string // child entity IDs, in the fixed order full_hash is computed over
	DeletedAt int64    // HLC physical time of tombstoning, 0 if live
}

// EntityIndex tracks every entity in a context and recomputes full_hash
// bottom-up on demand.
type EntityIndex struct {
	entities map[string]*Entity
	fullHash map[string]Hash
}

// NewEntityIndex creates an empty index.
func NewEntityIndex() *EntityIndex {
	return &EntityIndex{entities: make(map[string]*Entity), fullHash: make(map[string]Hash)}
}

// Put inserts or updates an entity's own_hash and child list, recomputing
// full_hash is invalidated lazily by RootHash/FullHash.
func (idx *EntityIndex) Put(e *Entity) {
	idx.entities[e.ID] = e
	delete(idx.fullHash, e.ID) // invalidate memoized hash; ancestors recompute on next query
	idx.fullHash = make(map[string]Hash)
}

// Tombstone marks entity id deleted at the given HLC physical time
// without removing it from the index — a tombstoned entity still
// contributes its own_hash to ancestor full_hash computations so deletion
// itself is a detectable, convergent change.
func (idx *EntityIndex) Tombstone(id string, atPhysical int64) {
	if e, ok := idx.entities[id]; ok {
		e.DeletedAt = atPhysical
		idx.fullHash = make(map[string]Hash)
	}
}

// Get returns the entity for id.
func (idx *EntityIndex) Get(id string) (*Entity, bool) {
	e, ok := idx.entities[id]
	return e, ok
}

// FullHash computes full_hash = SHA256(own_hash || sorted(child.full_hash)*)
// recursively, memoizing every result until the next Put or Tombstone
// clears the memo, to keep whole-index recomputation linear in entity
// count.
func (idx *EntityIndex) FullHash(id string) Hash {
	if h, ok := idx.fullHash[id]; ok {
		return h
	}
	e, ok := idx.entities[id]
	if !ok {
		return Hash{}
	}
	childHashes := make([][]byte, 0, len(e.Children))
	for _, childID := range e.Children {
		ch := idx.FullHash(childID)
		childHashes = append(childHashes, ch[:])
	}
	sort.Slice(childHashes, func(i, j int) bool {
		return string(childHashes[i]) < string(childHashes[j])
	})
	own := e.OwnHash
	if e.DeletedAt != 0 {
		// Fold tombstoning into the hash so a delete alone is detectable by
		// ancestors without requiring a separate own_hash update.
		own = hashBytes(own[:], []byte("tombstone"))
	}
	parts := append([][]byte{own[:]}, childHashes...)
	h := hashBytes(parts...)
	idx.fullHash[id] = h
	return h
}

// EntityIDs returns every entity ID in the index, sorted.
func (idx *EntityIndex) EntityIDs() []string {
	ids := make([]string, 0, len(idx.entities))
	for id := range idx.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OwnHashOf computes an own_hash for arbitrary content, the hash function
// every CRDT action/state uses before registering itself with Put.
func OwnHashOf(content []byte) Hash {
	return hashBytes(content)
}
