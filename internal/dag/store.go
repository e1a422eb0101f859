package dag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/calimero-network/core/internal/logging"
	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/merkle"
)

// Applier is the DAG store's sole collaborator: it decrypts a delta's
// payload, applies its actions to CRDT storage, and reports whether the
// delta was applied sequentially against the expected parent state or
// merged against a diverged one. The concrete implementation lives in
// internal/applier; this interface exists so internal/dag never imports
// it back (internal/applier imports internal/dag, not the reverse).
type Applier interface {
	Apply(ctx context.Context, contextID string, d Delta, merge bool) (computedRootHash merkle.Hash, events []byte, err error)
}

// Store is the per-context causal delta buffer: validate, order,
// cascade, apply. One Store serves exactly one context.
type Store struct {
	contextID string
	applier   Applier

	mu sync.Mutex // serializes add_delta so cascade is atomic w.r.t. heads

	applied    map[DeltaID]Delta
	pending    map[DeltaID]*pendingEntry
	heads      map[DeltaID]struct{}
	parentHash map[DeltaID]merkle.Hash // computed post-hash per applied delta
}

// New constructs an empty DAG store for one context.
func New(contextID string, applier Applier) *Store {
	return &Store{
		contextID:  contextID,
		applier:    applier,
		applied:    make(map[DeltaID]Delta),
		pending:    make(map[DeltaID]*pendingEntry),
		heads:      make(map[DeltaID]struct{}),
		parentHash: make(map[DeltaID]merkle.Hash),
	}
}

// AddDelta validates d's parents; if all are already applied (or d is
// genesis) it invokes the Applier immediately, marks d applied, updates
// heads, and cascades any pending children now satisfied. Otherwise d is
// buffered in pending with the current instant.
func (s *Store) AddDelta(ctx context.Context, d Delta) (applied bool, cascaded []DeltaID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.applied[d.ID]; ok {
		return true, nil, nil
	}

	if !s.parentsSatisfied(d) {
		s.pending[d.ID] = &pendingEntry{delta: d, firstSeen: time.Now()}
		return false, nil, nil
	}

	if err := s.apply(ctx, d); err != nil {
		return false, nil, err
	}
	cascaded = s.cascade(ctx)
	return true, cascaded, nil
}

// parentsSatisfied reports whether every parent of d is genesis or
// already applied.
func (s *Store) parentsSatisfied(d Delta) bool {
	if d.IsGenesis() {
		return true
	}
	for _, p := range d.Parents {
		if p == ZeroParent {
			continue
		}
		if _, ok := s.applied[p]; !ok {
			return false
		}
	}
	return true
}

// apply determines sequential vs merge (§4.3's ordering rule), invokes
// the Applier, and records bookkeeping. Caller must hold s.mu.
func (s *Store) apply(ctx context.Context, d Delta) error {
	merge := s.isMerge(d)

	computed, events, err := s.applier.Apply(ctx, s.contextID, d, merge)
	if err != nil {
		if calerr.Retriable(err) {
			s.pending[d.ID] = &pendingEntry{delta: d, firstSeen: time.Now()}
			return err
		}
		// Non-retriable Executor failure: reject, drop from pending.
		delete(s.pending, d.ID)
		return fmt.Errorf("apply delta %x: %w", d.ID, err)
	}

	if !merge && computed != d.ExpectedRootHash {
		logging.From(ctx).Debugw("sequential delta produced unexpected root hash",
			"delta_id", fmt.Sprintf("%x", d.ID), "expected", fmt.Sprintf("%x", d.ExpectedRootHash), "computed", fmt.Sprintf("%x", computed))
	}

	if len(events) > 0 {
		d.Events = events
	}
	s.applied[d.ID] = d
	s.parentHash[d.ID] = computed
	delete(s.pending, d.ID)

	for _, p := range d.Parents {
		delete(s.heads, p)
	}
	s.heads[d.ID] = struct{}{}
	return nil
}

// isMerge implements §4.3's ordering rule: sequential iff every
// non-genesis parent's recorded post-hash equals the store's notion of
// "current" at the time that parent was applied — in practice, iff
// every parent is a current head (no concurrent sibling has since been
// applied on top of it) and its tracked post-hash is known. Unknown
// (externally authored) parents are conservatively treated as merge.
func (s *Store) isMerge(d Delta) bool {
	if d.IsGenesis() {
		return false
	}
	for _, p := range d.Parents {
		if p == ZeroParent {
			continue
		}
		if _, known := s.parentHash[p]; !known {
			return true
		}
		if _, isHead := s.heads[p]; !isHead {
			return true
		}
	}
	return false
}

// cascade retries every pending delta whose parents have become
// satisfied, repeating until a full pass makes no progress. Caller must
// hold s.mu.
func (s *Store) cascade(ctx context.Context) []DeltaID {
	var newlyApplied []DeltaID
	for {
		progressed := false
		for id, entry := range s.pending {
			if !s.parentsSatisfied(entry.delta) {
				continue
			}
			if err := s.apply(ctx, entry.delta); err != nil {
				continue
			}
			delete(s.pending, id)
			newlyApplied = append(newlyApplied, id)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return newlyApplied
}

// RestoreAppliedDelta marks d applied without invoking the Applier, for
// use during persistence recovery where state was already materialized.
// Fails if d's parents have not themselves been restored first.
func (s *Store) RestoreAppliedDelta(d Delta, computedRootHash merkle.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.parentsSatisfied(d) {
		return false
	}
	s.applied[d.ID] = d
	s.parentHash[d.ID] = computedRootHash
	for _, p := range d.Parents {
		delete(s.heads, p)
	}
	s.heads[d.ID] = struct{}{}
	return true
}

// GetMissingParents collects, across every pending delta, parent IDs
// that are neither applied nor themselves pending, up to limit.
func (s *Store) GetMissingParents(limit int) []DeltaID {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[DeltaID]struct{})
	var missing []DeltaID
	for _, entry := range s.pending {
		for _, p := range entry.delta.Parents {
			if p == ZeroParent {
				continue
			}
			if _, ok := s.applied[p]; ok {
				continue
			}
			if _, ok := s.pending[p]; ok {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			missing = append(missing, p)
			if len(missing) >= limit {
				return missing
			}
		}
	}
	return missing
}

// GetHeads returns the current DAG tips: applied deltas with no applied
// descendants.
func (s *Store) GetHeads() []DeltaID {
	s.mu.Lock()
	defer s.mu.Unlock()

	heads := make([]DeltaID, 0, len(s.heads))
	for id := range s.heads {
		heads = append(heads, id)
	}
	return heads
}

// HasDelta reports whether id is known, applied or pending.
func (s *Store) HasDelta(id DeltaID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applied[id]; ok {
		return true
	}
	_, ok := s.pending[id]
	return ok
}

// IsApplied reports whether id has been applied.
func (s *Store) IsApplied(id DeltaID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.applied[id]
	return ok
}

// GetDelta retrieves a known delta, applied or pending.
func (s *Store) GetDelta(id DeltaID) (Delta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.applied[id]; ok {
		return d, true
	}
	if e, ok := s.pending[id]; ok {
		return e.delta, true
	}
	return Delta{}, false
}

// GetAppliedDeltaIDs returns every applied delta ID, used to build a
// bloom filter for delta-sync reconciliation.
func (s *Store) GetAppliedDeltaIDs() []DeltaID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]DeltaID, 0, len(s.applied))
	for id := range s.applied {
		ids = append(ids, id)
	}
	return ids
}

// CleanupStale evicts pending deltas first seen longer than maxAge ago,
// returning the number evicted.
func (s *Store) CleanupStale(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var evicted int
	for id, entry := range s.pending {
		if entry.firstSeen.Before(cutoff) {
			delete(s.pending, id)
			evicted++
		}
	}
	return evicted
}

// GetDeltasNotInBloom probes every applied delta against a remote's
// bloom filter of delta IDs, returning those the filter reports absent —
// the candidate set delta sync streams to the remote.
func (s *Store) GetDeltasNotInBloom(filter *bloom.BloomFilter) []Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []Delta
	for id, d := range s.applied {
		if !filter.Test(id[:]) {
			missing = append(missing, d)
		}
	}
	return missing
}

// PendingCount reports the number of deltas currently buffered pending
// parent satisfaction, for diagnostics and tests.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
