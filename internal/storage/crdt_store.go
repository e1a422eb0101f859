package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/merkle"
)

// CRDTStore is the persisted CRDT tree for a single context: entity
// state lives in the base Store under ColumnEntityState, the Merkle
// EntityIndex is rebuilt from it, and Commit/LoadState checkpoint the
// index's root hash by height, generalized from the teacher's
// MerkleStore (rebuildTree/Commit/LoadState/isInternalKey) from a flat
// key-value tree to the per-context entity graph spec.md's data model
// requires.
type CRDTStore struct {
	base      Store
	contextID string
	branching int
	chunkSize int

	mu     sync.RWMutex
	index  *merkle.EntityIndex
	height uint64
}

// NewCRDTStore creates a CRDTStore over base for one context, rebuilding
// its entity index from whatever is already persisted.
func NewCRDTStore(ctx context.Context, base Store, contextID string, branching, chunkSize int) (*CRDTStore, error) {
	cs := &CRDTStore{base: base, contextID: contextID, branching: branching, chunkSize: chunkSize}
	if err := cs.rebuildIndex(ctx); err != nil {
		return nil, fmt.Errorf("rebuild entity index: %w", err)
	}
	return cs, nil
}

func (cs *CRDTStore) rebuildIndex(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	idx := merkle.NewEntityIndex()
	err := cs.base.IterateColumn(ctx, ColumnEntityState, cs.contextID, func(entityID string, value []byte) error {
		idx.Put(&merkle.Entity{ID: entityID, OwnHash: merkle.OwnHashOf(value)})
		return nil
	})
	if err != nil {
		return err
	}
	cs.index = idx
	return nil
}

// IterateEntityStates walks every persisted entity's (id, state) pair in
// key order, the access pattern snapshot sync pages over.
func (cs *CRDTStore) IterateEntityStates(ctx context.Context, fn func(entityID string, state []byte) error) error {
	return cs.base.IterateColumn(ctx, ColumnEntityState, cs.contextID, fn)
}

// GetEntity retrieves a persisted entity's raw state.
func (cs *CRDTStore) GetEntity(ctx context.Context, entityID string) ([]byte, error) {
	val, _, err := cs.base.GetColumn(ctx, ColumnEntityState, cs.contextID, entityID)
	return val, err
}

// PutEntity persists entity state and updates the in-memory index.
func (cs *CRDTStore) PutEntity(ctx context.Context, entityID string, state []byte, children []string) error {
	if err := cs.base.SetColumn(ctx, ColumnEntityState, cs.contextID, state, entityID); err != nil {
		return fmt.Errorf("set entity state: %w", err)
	}
	cs.mu.Lock()
	cs.index.Put(&merkle.Entity{ID: entityID, OwnHash: merkle.OwnHashOf(state), Children: children})
	cs.mu.Unlock()
	return nil
}

// TombstoneEntity marks entityID deleted at the given HLC physical time.
func (cs *CRDTStore) TombstoneEntity(entityID string, atPhysical int64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.index.Tombstone(entityID, atPhysical)
}

// Index returns the current entity index for read-only parent/child
// traversal — entity sync's SubtreePrefetch strategy needs FullHash and
// Children access BuildSyncTree's flat, chunked view doesn't expose.
// Callers must not mutate the returned index.
func (cs *CRDTStore) Index() *merkle.EntityIndex {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.index
}

// RootHash returns the current full_hash of the context's root entity
// ("root" by convention — callers register an entity under that ID as
// the context's top-level container).
func (cs *CRDTStore) RootHash(rootEntityID string) merkle.Hash {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.index.FullHash(rootEntityID)
}

// BuildSyncTree constructs the chunked Merkle sync tree over the current
// entity index, used by Merkle-strategy sync to diff against a peer.
func (cs *CRDTStore) BuildSyncTree() *merkle.Tree {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return merkle.BuildTree(cs.index, cs.branching, cs.chunkSize)
}

// Commit checkpoints the current root hash at the next height and
// returns it, mirroring the teacher's MerkleStore.Commit height ladder.
func (cs *CRDTStore) Commit(ctx context.Context, rootEntityID string) (merkle.Hash, uint64, error) {
	root := cs.RootHash(rootEntityID)

	cs.mu.Lock()
	height := cs.height
	cs.height++
	cs.mu.Unlock()

	if err := cs.base.SetColumn(ctx, columnInternalRoot, cs.contextID, root[:], heightRest(height)); err != nil {
		return merkle.Hash{}, 0, fmt.Errorf("store root checkpoint: %w", err)
	}
	return root, height, nil
}

// LoadState returns the checkpointed root hash at height.
func (cs *CRDTStore) LoadState(ctx context.Context, height uint64) (merkle.Hash, error) {
	data, ok, err := cs.base.GetColumn(ctx, columnInternalRoot, cs.contextID, heightRest(height))
	if err != nil {
		return merkle.Hash{}, fmt.Errorf("load root checkpoint at height %d: %w", height, err)
	}
	if !ok {
		return merkle.Hash{}, fmt.Errorf("load root checkpoint at height %d: %w", height, calerr.ErrNotFound)
	}
	var h merkle.Hash
	copy(h[:], data)
	return h, nil
}

func heightRest(height uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return string(buf[:])
}
