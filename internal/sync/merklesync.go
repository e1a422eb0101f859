package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/calimero-network/core/internal/lru"
	"github.com/calimero-network/core/internal/storage"
	"github.com/calimero-network/core/internal/wire"
	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/merkle"
)

// MerkleCursor is the resumable traversal state, scoped to a boundary
// root hash. It is persisted only when a caller passes it to SaveCursor;
// InitiateMerkleSync does not save it on its own, and the
// CursorPersistEvery and MaxCursorBytes fields of config.MerkleConfig are
// not read by this package. SaveCursor deletes rather than stores a
// cursor larger than its maxBytes argument; nothing here then switches
// to snapshot sync.
type MerkleCursor struct {
	BoundaryRootHash [32]byte
	PendingLeafKeys  []string // StartKey of each not-yet-resolved leaf
	CoveredRanges    []string // StartKey of leaves already confirmed equal
}

func cursorRest(boundaryRoot merkle.Hash) string {
	return fmt.Sprintf("merkle_cursor/%x", boundaryRoot)
}

// SaveCursor persists cursor for contextID, scoped to its boundary root.
// Cursors larger than maxBytes are dropped rather than stored, matching
// spec.md's overflow rule.
func SaveCursor(ctx context.Context, base storage.Store, contextID string, cursor MerkleCursor, maxBytes int) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("encode merkle cursor: %w", err)
	}
	rest := cursorRest(cursor.BoundaryRootHash)
	if len(data) > maxBytes {
		return base.DeleteColumn(ctx, storage.ColumnGeneric, contextID, rest)
	}
	return base.SetColumn(ctx, storage.ColumnGeneric, contextID, data, rest)
}

// LoadCursor reloads a previously persisted cursor for boundaryRoot. A
// missing or corrupted cursor is reported as "not found" (corrupted
// cursors are dropped silently rather than surfaced as an error, per
// spec.md §4.5.3), never as a hard failure.
func LoadCursor(ctx context.Context, base storage.Store, contextID string, boundaryRoot merkle.Hash) (MerkleCursor, bool) {
	data, ok, err := base.GetColumn(ctx, storage.ColumnGeneric, contextID, cursorRest(boundaryRoot))
	if err != nil || !ok || len(data) == 0 {
		return MerkleCursor{}, false
	}
	var cursor MerkleCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return MerkleCursor{}, false
	}
	return cursor, true
}

// MerkleSyncState drives the initiator's BFS traversal against a remote
// tree. DiffAgainst records each diverged leaf's hash in an LRU; nothing
// in this package reads that cache back, so a resumed traversal hashes
// every chunk again.
type MerkleSyncState struct {
	local  *merkle.Tree
	cache  *lru.Cache[string, merkle.Hash]
	cursor MerkleCursor
}

// NewMerkleSyncState begins or resumes a traversal of local against a
// remote tree sharing boundaryRoot, with an LRU sized cacheSize.
func NewMerkleSyncState(local *merkle.Tree, cacheSize int, resumed *MerkleCursor) *MerkleSyncState {
	s := &MerkleSyncState{local: local, cache: lru.New[string, merkle.Hash](cacheSize)}
	if resumed != nil {
		s.cursor = *resumed
	}
	return s
}

// DiffAgainst computes the leaf chunks diverging between the local tree
// and a remote tree snapshot already fetched in full — the simplified
// shape for when both trees are materialized in the same process (used
// by tests; entity sync's HashComparison strategy goes through
// InitiateLevelTraversalSync instead). Two processes over a real stream
// instead drive InitiateMerkleSync / RespondMerkleSync, which negotiate
// the same divergence one tree level at a time, one full level row per
// reply, and stop at the first level that shows no divergence.
func (s *MerkleSyncState) DiffAgainst(remote *merkle.Tree) []*merkle.Leaf {
	diverged := merkle.Diff(s.local, remote)
	for _, leaf := range diverged {
		s.cursor.PendingLeafKeys = append(s.cursor.PendingLeafKeys, leaf.StartKey)
		s.cache.Put(leaf.StartKey, leaf.Hash)
	}
	return diverged
}

// ResolveLeaf marks a pending leaf as resolved (fetched and applied),
// moving its key from pending to covered.
func (s *MerkleSyncState) ResolveLeaf(startKey string) {
	for i, k := range s.cursor.PendingLeafKeys {
		if k == startKey {
			s.cursor.PendingLeafKeys = append(s.cursor.PendingLeafKeys[:i], s.cursor.PendingLeafKeys[i+1:]...)
			break
		}
	}
	s.cursor.CoveredRanges = append(s.cursor.CoveredRanges, startKey)
}

// Done reports whether every diverged leaf found so far has been
// resolved.
func (s *MerkleSyncState) Done() bool {
	return len(s.cursor.PendingLeafKeys) == 0
}

// Cursor returns the current resumable state for persistence.
func (s *MerkleSyncState) Cursor(boundaryRoot merkle.Hash) MerkleCursor {
	s.cursor.BoundaryRootHash = boundaryRoot
	return s.cursor
}

// ApplyLeaf replaces the local key-range [leaf.StartKey, leaf.EndKey]
// with the records the remote sent for it: local-only keys within the
// range are deleted, then every received record is written, per
// spec.md §4.5.3's "replaces the local key-range" rule.
func (e *Engine) ApplyLeaf(ctx context.Context, leaf *merkle.Leaf, records []SnapshotRecord) error {
	localKeys := make(map[string]struct{}, len(leaf.Keys))
	for _, k := range leaf.Keys {
		localKeys[k] = struct{}{}
	}
	received := make(map[string]struct{}, len(records))
	for _, rec := range records {
		received[rec.EntityID] = struct{}{}
	}
	for k := range localKeys {
		if _, stillPresent := received[k]; !stillPresent {
			e.store.TombstoneEntity(k, time.Now().UnixMilli())
		}
	}
	for _, rec := range records {
		if err := e.store.PutEntity(ctx, rec.EntityID, rec.State, nil); err != nil {
			return fmt.Errorf("write leaf record %s: %w", rec.EntityID, err)
		}
	}
	return nil
}

// VerifyBoundary reports whether the local root hash now matches the
// boundary pinned for the sync, the final verification step of both
// Merkle and snapshot sync.
func VerifyBoundary(localRoot, boundaryRoot merkle.Hash) error {
	if localRoot != boundaryRoot {
		return calerr.Wrap(calerr.ErrBoundaryMismatch, "local root %x != boundary %x", localRoot, boundaryRoot)
	}
	return nil
}

// merkleFrameKind discriminates the four roles a MerkleSyncRequest or
// MerkleSyncReply plays in the BFS wire protocol of spec.md §4.5.3:
// NodeRequest/NodeReply negotiate one level's hash vector, LeafRequest/
// LeafReply exchange a divergent leaf's records, Done closes the
// exchange, and Error aborts it.
type merkleFrameKind byte

const (
	merkleKindNode merkleFrameKind = iota
	merkleKindLeaf
	merkleKindDone
	merkleKindError
)

// MerkleSyncRequest is one request frame of the incremental, top-down
// tree-diff exchange: a NodeRequest asks for the hash vector at Depth
// levels below the root, a LeafRequest asks for specific leaf indices'
// records, and Done tells the responder's loop to stop without
// expecting a reply.
type MerkleSyncRequest struct {
	Kind        merkleFrameKind
	Depth       uint64
	LeafIndices []uint64
}

// MerkleSyncReply answers a MerkleSyncRequest: NodeReply carries the
// requested level's digests plus the responder's total level count (so
// the initiator can tell a shallower remote tree from real divergence),
// LeafReply carries the requested leaves' compressed record chunks
// (nil entries for indices the responder doesn't have), and Error
// aborts the exchange.
type MerkleSyncReply struct {
	Kind        merkleFrameKind
	Digests     [][32]byte
	TotalLevels uint64
	Chunks      []*SnapshotChunk
	ErrorMsg    string
}

func hashesToWire(hs []merkle.Hash) [][32]byte {
	out := make([][32]byte, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}

func wireToHashes(ws [][32]byte) []merkle.Hash {
	out := make([]merkle.Hash, len(ws))
	for i, w := range ws {
		out[i] = w
	}
	return out
}

// intsToWire/wireToInts carry leaf indices over RLP, which has no
// signed-integer kind — every wire-transported count in this package
// rides as uint64 instead.
func intsToWire(is []int) []uint64 {
	out := make([]uint64, len(is))
	for i, v := range is {
		out[i] = uint64(v)
	}
	return out
}

func wireToInts(ws []uint64) []int {
	out := make([]int, len(ws))
	for i, v := range ws {
		out[i] = int(v)
	}
	return out
}

func leafAt(leaves []*merkle.Leaf, idx int) *merkle.Leaf {
	if idx < 0 || idx >= len(leaves) {
		return &merkle.Leaf{}
	}
	return leaves[idx]
}

func frameMerkleRequest(req *MerkleSyncRequest) ([]byte, error) {
	return wire.Encode(wire.MsgMerkleDiffRequest, req)
}

func frameMerkleReply(resp *MerkleSyncReply) ([]byte, error) {
	return wire.Encode(wire.MsgMerkleChunk, resp)
}

func (e *Engine) roundTripMerkle(stream io.ReadWriter, req *MerkleSyncRequest) (*MerkleSyncReply, error) {
	framed, err := frameMerkleRequest(req)
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
	var reply MerkleSyncReply
	if err := wire.Decode(frame.Body, &reply); err != nil {
		return nil, err
	}
	if reply.Kind == merkleKindError {
		return nil, calerr.Wrap(calerr.ErrProtocolError, "remote merkle sync error: %s", reply.ErrorMsg)
	}
	return &reply, nil
}

// InitiateMerkleSync drives the initiator side of §4.5.3's resumable
// tree-diff traversal over an already-open stream: fetch the remote's
// level-hash vector one depth at a time, top-down from the root, using
// LevelWiseDivergentIndices to check each level, then fetch and apply
// only the leaves that actually diverged. Each NodeRequest returns the
// remote's whole row at that depth, so a descent that reaches the leaf
// level receives every level's hashes. A depth where the remote reports
// shallower tree (Done) or no divergence stops the descent early.
// A non-nil resumed cursor seeds the returned state's pending and
// covered lists; the traversal itself still starts from the root and
// skips nothing the cursor lists as covered.
func (e *Engine) InitiateMerkleSync(ctx context.Context, stream io.ReadWriter, cacheSize int, resumed *MerkleCursor) (*MerkleSyncState, error) {
	local := e.store.BuildSyncTree()
	localLevels := LevelHashes(local)
	state := NewMerkleSyncState(local, cacheSize, resumed)

	defer func() {
		done, err := frameMerkleRequest(&MerkleSyncRequest{Kind: merkleKindDone})
		if err == nil {
			_ = writeFrame(stream, done)
		}
	}()

	if len(localLevels) == 0 {
		return state, nil
	}

	maxDepth := len(localLevels) - 1
	var remoteLevels [][]merkle.Hash
	var divergentLeafIdx []int
	for depth := 0; depth <= maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		reply, err := e.roundTripMerkle(stream, &MerkleSyncRequest{Kind: merkleKindNode, Depth: uint64(depth)})
		if err != nil {
			return state, err
		}
		if reply.Kind == merkleKindDone {
			break
		}
		// Prepend so index 0 always holds the row most recently
		// fetched, matching LevelWiseDivergentIndices' bottom-up
		// indexing convention without needing the remote's full table
		// up front.
		remoteLevels = append([][]merkle.Hash{wireToHashes(reply.Digests)}, remoteLevels...)

		diverged := LevelWiseDivergentIndices(localLevels, remoteLevels, depth)
		if len(diverged) == 0 {
			return state, nil
		}
		if depth == maxDepth {
			divergentLeafIdx = diverged
		}
	}

	if len(divergentLeafIdx) == 0 {
		return state, nil
	}

	leaves := local.Leaves()
	for _, idx := range divergentLeafIdx {
		state.cursor.PendingLeafKeys = append(state.cursor.PendingLeafKeys, leafAt(leaves, idx).StartKey)
	}

	reply, err := e.roundTripMerkle(stream, &MerkleSyncRequest{Kind: merkleKindLeaf, LeafIndices: intsToWire(divergentLeafIdx)})
	if err != nil {
		return state, err
	}
	for i, idx := range divergentLeafIdx {
		leaf := leafAt(leaves, idx)
		if i >= len(reply.Chunks) || reply.Chunks[i] == nil {
			continue
		}
		records, err := decodeChunk(reply.Chunks[i])
		if err != nil {
			return state, err
		}
		if err := e.ApplyLeaf(ctx, leaf, records); err != nil {
			return state, err
		}
		state.ResolveLeaf(leaf.StartKey)
	}
	return state, nil
}

// RespondMerkleSync is the responder's standalone driver for a merkle
// sync exchange on its own stream: handle NodeRequest/LeafRequest
// frames until the initiator sends Done. ServeStream instead handles
// one NodeRequest or LeafRequest frame at a time inline, since its
// generic per-frame dispatch loop already provides the read-until-done
// behavior this function implements for a standalone stream.
func (e *Engine) RespondMerkleSync(ctx context.Context, stream io.ReadWriter) error {
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
		var req MerkleSyncRequest
		if err := wire.Decode(frame.Body, &req); err != nil {
			return err
		}
		if req.Kind == merkleKindDone {
			return nil
		}
		reply := e.handleMerkleRequest(ctx, &req)
		framed, err := frameMerkleReply(reply)
		if err != nil {
			return err
		}
		if err := writeFrame(stream, framed); err != nil {
			return err
		}
	}
}

// handleMerkleRequest is the responder-side logic shared by
// RespondMerkleSync and dispatch.go's ServeStream case: answer a
// NodeRequest with the local tree's hash vector at the requested depth
// (Done if the local tree has no level that deep), or a LeafRequest
// with the requested leaves' records compressed the same way snapshot
// sync pages its chunks.
func (e *Engine) handleMerkleRequest(ctx context.Context, req *MerkleSyncRequest) *MerkleSyncReply {
	local := e.store.BuildSyncTree()
	levels := LevelHashes(local)

	switch req.Kind {
	case merkleKindNode:
		maxDepth := len(levels) - 1
		if maxDepth < 0 || req.Depth > uint64(maxDepth) {
			return &MerkleSyncReply{Kind: merkleKindDone}
		}
		row := levels[maxDepth-int(req.Depth)]
		return &MerkleSyncReply{Kind: merkleKindNode, Digests: hashesToWire(row), TotalLevels: uint64(len(levels))}

	case merkleKindLeaf:
		leaves := local.Leaves()
		leafIndices := wireToInts(req.LeafIndices)
		chunks := make([]*SnapshotChunk, len(leafIndices))
		for i, idx := range leafIndices {
			if idx < 0 || idx >= len(leaves) {
				continue
			}
			var records []SnapshotRecord
			for _, key := range leaves[idx].Keys {
				state, err := e.store.GetEntity(ctx, key)
				if err != nil {
					return &MerkleSyncReply{Kind: merkleKindError, ErrorMsg: err.Error()}
				}
				records = append(records, SnapshotRecord{EntityID: key, State: state})
			}
			if len(records) == 0 {
				continue
			}
			chunk, err := encodeChunk(records)
			if err != nil {
				return &MerkleSyncReply{Kind: merkleKindError, ErrorMsg: err.Error()}
			}
			chunks[i] = chunk
		}
		return &MerkleSyncReply{Kind: merkleKindLeaf, Chunks: chunks}

	default:
		return &MerkleSyncReply{Kind: merkleKindError, ErrorMsg: "unknown merkle request kind"}
	}
}
