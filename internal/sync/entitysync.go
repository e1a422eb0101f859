package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/calimero-network/core/internal/wire"
	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/crdt"
	"github.com/calimero-network/core/pkg/merkle"
)

// EntityStrategy names one of the four entity-sync approaches of
// spec.md §4.5.4, selected by the caller based on tree shape and
// expected divergence.
type EntityStrategy int

const (
	StrategyBloomFilter EntityStrategy = iota
	StrategyHashComparison
	StrategySubtreePrefetch
	StrategyLevelWise
)

// EntityRecord is one CRDT entity's (key, value, crdt_type) tuple, the
// unit every entity-sync strategy exchanges.
type EntityRecord struct {
	EntityID string
	State    []byte
	CRDTType string
}

// --- BloomFilter strategy (2 round trips) ---

// BuildEntityBloomFilter serializes a bloom filter over every entity key
// in idx, for the initiator to send.
func BuildEntityBloomFilter(idx *merkle.EntityIndex, fpRate float64) ([]byte, error) {
	keys := idx.EntityIDs()
	n := uint(len(keys))
	if n == 0 {
		n = 1
	}
	filter := bloom.NewWithEstimates(n, fpRate)
	for _, k := range keys {
		filter.Add([]byte(k))
	}
	var buf bytes.Buffer
	if _, err := filter.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize entity bloom filter: %w", err)
	}
	return buf.Bytes(), nil
}

// HandleEntityBloomRequest returns every entity in store not matched by
// the initiator's filter, the responder side of the BloomFilter
// strategy.
func (e *Engine) HandleEntityBloomRequest(ctx context.Context, filterBytes []byte) ([]EntityRecord, error) {
	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(filterBytes)); err != nil {
		return nil, fmt.Errorf("decode entity bloom filter: %w", calerr.Wrap(calerr.ErrProtocolError, "%v", err))
	}

	// CRDTType is left for the caller to stamp: entity state blobs here
	// carry no type discriminant of their own (each CRDT's Marshal is a
	// plain field-struct encoding), so the responder doesn't know it
	// without a side index. Callers that mix CRDT types within one
	// context pass per-entity types into ApplyEntityRecords separately.
	var missing []EntityRecord
	err := e.store.IterateEntityStates(ctx, func(entityID string, state []byte) error {
		if filter.Test([]byte(entityID)) {
			return nil
		}
		missing = append(missing, EntityRecord{EntityID: entityID, State: state})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return missing, nil
}

// ApplyEntityRecords merges remote records into local storage using
// each entity's CRDT-aware merge semantics: if the entity exists
// locally, unmarshal both into the declared type and Merge; if absent,
// write the remote record as-is (spec.md §4.5.4's entity-application
// rule).
func (e *Engine) ApplyEntityRecords(ctx context.Context, records []EntityRecord, crdtType crdt.Type) error {
	for _, rec := range records {
		existing, err := e.store.GetEntity(ctx, rec.EntityID)
		if err != nil || len(existing) == 0 {
			if err := e.store.PutEntity(ctx, rec.EntityID, rec.State, nil); err != nil {
				return fmt.Errorf("write new entity %s: %w", rec.EntityID, err)
			}
			continue
		}

		local, err := crdt.New(crdtType, "")
		if err != nil {
			return err
		}
		if err := local.Unmarshal(existing); err != nil {
			return fmt.Errorf("decode local entity %s: %w", rec.EntityID, err)
		}
		remote, err := crdt.New(crdtType, "")
		if err != nil {
			return err
		}
		if err := remote.Unmarshal(rec.State); err != nil {
			return fmt.Errorf("decode remote entity %s: %w", rec.EntityID, err)
		}
		if err := local.Merge(remote); err != nil {
			return fmt.Errorf("merge entity %s: %w", rec.EntityID, err)
		}
		merged, err := local.Marshal()
		if err != nil {
			return err
		}
		if err := e.store.PutEntity(ctx, rec.EntityID, merged, nil); err != nil {
			return fmt.Errorf("write merged entity %s: %w", rec.EntityID, err)
		}
	}
	return nil
}

// --- HashComparison strategy (BFS, general case) ---

// DivergentLeaves runs the same BFS tree-diff Merkle sync uses, but
// callers fetch and CRDT-merge each leaf's entities instead of
// overwriting the key range, per spec.md's HashComparison strategy.
func DivergentLeaves(local, remote *merkle.Tree) []*merkle.Leaf {
	return merkle.Diff(local, remote)
}

// --- SubtreePrefetch strategy (1 + k round trips) ---

// DivergentRootChildren compares rootID's children between local and
// remote indexes, returning the child IDs whose full_hash differs —
// candidates for a single full-subtree fetch each.
func DivergentRootChildren(local, remote *merkle.EntityIndex, rootID string) []string {
	localRoot, ok := local.Get(rootID)
	if !ok {
		return nil
	}
	var diverged []string
	for _, childID := range localRoot.Children {
		if local.FullHash(childID) != remote.FullHash(childID) {
			diverged = append(diverged, childID)
		}
	}
	return diverged
}

// CollectSubtree gathers every entity ID in the subtree rooted at id
// (id included), the fetch unit SubtreePrefetch requests in one
// round trip per divergent root child.
func CollectSubtree(idx *merkle.EntityIndex, id string) []string {
	e, ok := idx.Get(id)
	if !ok {
		return nil
	}
	ids := []string{id}
	for _, childID := range e.Children {
		ids = append(ids, CollectSubtree(idx, childID)...)
	}
	return ids
}

// --- LevelWise strategy (O(depth) round trips) ---

// LevelHashes reconstructs the sync tree's per-level hash vector,
// bottom level first, by regrouping Leaves() in chunks of Branching the
// same way BuildTree folds levels upward — without needing access to
// the tree's internal node type.
func LevelHashes(t *merkle.Tree) [][]merkle.Hash {
	leaves := t.Leaves()
	if len(leaves) == 0 {
		return nil
	}
	level := make([]merkle.Hash, len(leaves))
	for i, l := range leaves {
		level[i] = l.Hash
	}

	levels := [][]merkle.Hash{level}
	for len(level) > 1 {
		var next []merkle.Hash
		for i := 0; i < len(level); i += t.Branching {
			end := i + t.Branching
			if end > len(level) {
				end = len(level)
			}
			next = append(next, merkle.OwnHashOf(concatHashes(level[i:end])))
		}
		levels = append(levels, next)
		level = next
	}
	return levels
}

func concatHashes(hashes []merkle.Hash) []byte {
	buf := make([]byte, 0, len(hashes)*32)
	for _, h := range hashes {
		buf = append(buf, h[:]...)
	}
	return buf
}

// LevelWiseDivergentIndices compares the single level depth steps below
// the root (levels are indexed bottom level first, as LevelHashes builds
// them) between local and remote and returns the indices within that
// level that differ. Callers fetch the remote's whole next level rather
// than only the children of these indices, repeating until leaves are
// reached or a level shows no divergence.
func LevelWiseDivergentIndices(localLevels, remoteLevels [][]merkle.Hash, depth int) []int {
	li := len(localLevels) - 1 - depth
	ri := len(remoteLevels) - 1 - depth
	if li < 0 || ri < 0 || li >= len(localLevels) || ri >= len(remoteLevels) {
		return nil
	}
	local, remote := localLevels[li], remoteLevels[ri]
	var diverged []int
	for i := 0; i < len(local) || i < len(remote); i++ {
		var lh, rh merkle.Hash
		if i < len(local) {
			lh = local[i]
		}
		if i < len(remote) {
			rh = remote[i]
		}
		if lh != rh {
			diverged = append(diverged, i)
		}
	}
	return diverged
}

// --- wire round trips for all four strategies ---

// entityFrameKind discriminates what one EntitySyncRequest/EntitySyncReply
// pair negotiates: a bloom filter exchange, a level-hash node request
// (shared by HashComparison and LevelWise), a leaf fetch by bucket
// index, a SubtreePrefetch child-hash request, a SubtreePrefetch
// subtree fetch, Done to close the exchange, or Error to abort it.
type entityFrameKind byte

const (
	entityKindBloom entityFrameKind = iota
	entityKindNode
	entityKindLeafFetch
	entityKindSubtreeChildren
	entityKindSubtreeFetch
	entityKindDone
	entityKindError
)

// EntitySyncRequest is one request frame of the entity-sync wire
// protocol, tagged wire.MsgEntityDiffRequest.
type EntitySyncRequest struct {
	Kind        entityFrameKind
	Filter      []byte
	Depth       uint64
	LeafIndices []uint64
	RootID      string
}

// EntitySyncReply answers an EntitySyncRequest, tagged
// wire.MsgEntityBatch.
type EntitySyncReply struct {
	Kind        entityFrameKind
	Records     []EntityRecord
	Digests     [][32]byte
	TotalLevels uint64
	ChildIDs    []string
	ChildHashes [][32]byte
	ErrorMsg    string
}

func frameEntityRequest(req *EntitySyncRequest) ([]byte, error) {
	return wire.Encode(wire.MsgEntityDiffRequest, req)
}

func frameEntityReply(resp *EntitySyncReply) ([]byte, error) {
	return wire.Encode(wire.MsgEntityBatch, resp)
}

func (e *Engine) roundTripEntity(stream io.ReadWriter, req *EntitySyncRequest) (*EntitySyncReply, error) {
	framed, err := frameEntityRequest(req)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(stream, framed); err != nil {
		return nil, err
	}
	respBytes, err := readFrame(stream)
	if err != nil {
		return nil, err
	}
	frame, err := wire.DecodeFrame(respBytes)
	if err != nil {
		return nil, err
	}
	var reply EntitySyncReply
	if err := wire.Decode(frame.Body, &reply); err != nil {
		return nil, err
	}
	if reply.Kind == entityKindError {
		return nil, calerr.Wrap(calerr.ErrProtocolError, "remote entity sync error: %s", reply.ErrorMsg)
	}
	return &reply, nil
}

func (e *Engine) sendEntityDone(stream io.ReadWriter) error {
	framed, err := frameEntityRequest(&EntitySyncRequest{Kind: entityKindDone})
	if err != nil {
		return err
	}
	return writeFrame(stream, framed)
}

// InitiateBloomFilterSync drives the BloomFilter strategy (spec.md
// §4.5.4, 2 round trips): send a bloom filter over every local entity
// key, then CRDT-merge whatever the responder reports missing.
func (e *Engine) InitiateBloomFilterSync(ctx context.Context, stream io.ReadWriter, idx *merkle.EntityIndex, fpRate float64, crdtType crdt.Type) error {
	defer func() { _ = e.sendEntityDone(stream) }()

	filter, err := BuildEntityBloomFilter(idx, fpRate)
	if err != nil {
		return err
	}
	reply, err := e.roundTripEntity(stream, &EntitySyncRequest{Kind: entityKindBloom, Filter: filter})
	if err != nil {
		return err
	}
	return e.ApplyEntityRecords(ctx, reply.Records, crdtType)
}

// InitiateLevelTraversalSync drives the HashComparison and LevelWise
// strategies, identical over the wire: negotiate the remote's
// level-hash vector top-down one NodeRequest at a time (the same
// incremental BFS internal/sync's Merkle sync uses), then fetch and
// CRDT-merge just the leaves that diverged. The two named strategies
// differ only in which round-trip budget the caller expects, not in
// mechanism.
func (e *Engine) InitiateLevelTraversalSync(ctx context.Context, stream io.ReadWriter, crdtType crdt.Type) error {
	defer func() { _ = e.sendEntityDone(stream) }()

	local := e.store.BuildSyncTree()
	localLevels := LevelHashes(local)
	if len(localLevels) == 0 {
		return nil
	}

	maxDepth := len(localLevels) - 1
	var remoteLevels [][]merkle.Hash
	var divergentLeafIdx []int
	for depth := 0; depth <= maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		reply, err := e.roundTripEntity(stream, &EntitySyncRequest{Kind: entityKindNode, Depth: uint64(depth)})
		if err != nil {
			return err
		}
		if reply.Kind == entityKindDone {
			break
		}
		remoteLevels = append([][]merkle.Hash{wireToHashes(reply.Digests)}, remoteLevels...)

		diverged := LevelWiseDivergentIndices(localLevels, remoteLevels, depth)
		if len(diverged) == 0 {
			return nil
		}
		if depth == maxDepth {
			divergentLeafIdx = diverged
		}
	}
	if len(divergentLeafIdx) == 0 {
		return nil
	}

	reply, err := e.roundTripEntity(stream, &EntitySyncRequest{Kind: entityKindLeafFetch, LeafIndices: intsToWire(divergentLeafIdx)})
	if err != nil {
		return err
	}
	return e.ApplyEntityRecords(ctx, reply.Records, crdtType)
}

// InitiateSubtreePrefetchSync drives the SubtreePrefetch strategy
// (spec.md §4.5.4, 1+k round trips): ask the responder which of
// rootID's children have a divergent full_hash, then fetch and
// CRDT-merge each divergent child's whole subtree in one round trip
// per child.
func (e *Engine) InitiateSubtreePrefetchSync(ctx context.Context, stream io.ReadWriter, rootID string, crdtType crdt.Type) error {
	defer func() { _ = e.sendEntityDone(stream) }()

	local := e.store.Index()
	root, ok := local.Get(rootID)
	if !ok {
		return nil
	}

	reply, err := e.roundTripEntity(stream, &EntitySyncRequest{Kind: entityKindSubtreeChildren, RootID: rootID})
	if err != nil {
		return err
	}
	remoteHash := make(map[string][32]byte, len(reply.ChildIDs))
	for i, id := range reply.ChildIDs {
		remoteHash[id] = reply.ChildHashes[i]
	}

	for _, childID := range root.Children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rh, ok := remoteHash[childID]; ok && local.FullHash(childID) == merkle.Hash(rh) {
			continue
		}
		fetchReply, err := e.roundTripEntity(stream, &EntitySyncRequest{Kind: entityKindSubtreeFetch, RootID: childID})
		if err != nil {
			return err
		}
		if err := e.ApplyEntityRecords(ctx, fetchReply.Records, crdtType); err != nil {
			return err
		}
	}
	return nil
}

// RespondEntitySync is the responder's standalone driver for an entity
// sync exchange on its own stream: handle requests of any strategy
// until the initiator sends Done. ServeStream instead handles one
// request frame at a time inline, relying on its own per-frame loop
// for the same read-until-done behavior.
func (e *Engine) RespondEntitySync(ctx context.Context, stream io.ReadWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		reqBytes, err := readFrame(stream)
		if err != nil {
			return err
		}
		frame, err := wire.DecodeFrame(reqBytes)
		if err != nil {
			return err
		}
		var req EntitySyncRequest
		if err := wire.Decode(frame.Body, &req); err != nil {
			return err
		}
		if req.Kind == entityKindDone {
			return nil
		}
		reply := e.handleEntityRequest(ctx, &req)
		framed, err := frameEntityReply(reply)
		if err != nil {
			return err
		}
		if err := writeFrame(stream, framed); err != nil {
			return err
		}
	}
}

// handleEntityRequest is the responder-side logic shared by
// RespondEntitySync and dispatch.go's ServeStream case.
func (e *Engine) handleEntityRequest(ctx context.Context, req *EntitySyncRequest) *EntitySyncReply {
	switch req.Kind {
	case entityKindBloom:
		missing, err := e.HandleEntityBloomRequest(ctx, req.Filter)
		if err != nil {
			return &EntitySyncReply{Kind: entityKindError, ErrorMsg: err.Error()}
		}
		return &EntitySyncReply{Kind: entityKindBloom, Records: missing}

	case entityKindNode:
		local := e.store.BuildSyncTree()
		levels := LevelHashes(local)
		maxDepth := len(levels) - 1
		if maxDepth < 0 || req.Depth > uint64(maxDepth) {
			return &EntitySyncReply{Kind: entityKindDone}
		}
		row := levels[maxDepth-int(req.Depth)]
		return &EntitySyncReply{Kind: entityKindNode, Digests: hashesToWire(row), TotalLevels: uint64(len(levels))}

	case entityKindLeafFetch:
		local := e.store.BuildSyncTree()
		leaves := local.Leaves()
		var records []EntityRecord
		for _, idx := range wireToInts(req.LeafIndices) {
			if idx < 0 || idx >= len(leaves) {
				continue
			}
			for _, key := range leaves[idx].Keys {
				state, err := e.store.GetEntity(ctx, key)
				if err != nil {
					return &EntitySyncReply{Kind: entityKindError, ErrorMsg: err.Error()}
				}
				records = append(records, EntityRecord{EntityID: key, State: state})
			}
		}
		return &EntitySyncReply{Kind: entityKindLeafFetch, Records: records}

	case entityKindSubtreeChildren:
		local := e.store.Index()
		root, ok := local.Get(req.RootID)
		if !ok {
			return &EntitySyncReply{Kind: entityKindSubtreeChildren}
		}
		ids := make([]string, 0, len(root.Children))
		hashes := make([][32]byte, 0, len(root.Children))
		for _, childID := range root.Children {
			ids = append(ids, childID)
			hashes = append(hashes, local.FullHash(childID))
		}
		return &EntitySyncReply{Kind: entityKindSubtreeChildren, ChildIDs: ids, ChildHashes: hashes}

	case entityKindSubtreeFetch:
		local := e.store.Index()
		ids := CollectSubtree(local, req.RootID)
		var records []EntityRecord
		for _, id := range ids {
			state, err := e.store.GetEntity(ctx, id)
			if err != nil {
				return &EntitySyncReply{Kind: entityKindError, ErrorMsg: err.Error()}
			}
			records = append(records, EntityRecord{EntityID: id, State: state})
		}
		return &EntitySyncReply{Kind: entityKindSubtreeFetch, Records: records}

	default:
		return &EntitySyncReply{Kind: entityKindError, ErrorMsg: "unknown entity request kind"}
	}
}
