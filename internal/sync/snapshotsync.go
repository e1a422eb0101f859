package sync

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/s2"

	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/wire"
	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/merkle"
)

// SnapshotBoundary pins the (root_hash, dag_heads) pair a responder
// commits to for the duration of a snapshot transfer, per spec.md's
// Boundary glossary entry.
type SnapshotBoundary struct {
	RootHash [32]byte
	DagHeads [][32]byte
}

// SnapshotRecord is one (entity_id, state) pair within a page.
type SnapshotRecord struct {
	EntityID string
	State    []byte
}

// SnapshotChunk is one compressed page of the key-ordered state stream.
type SnapshotChunk struct {
	StartKey        string
	EndKey          string
	Compressed      []byte
	UncompressedLen uint64
}

// BuildBoundary snapshots the responder's current root hash and DAG
// heads, to be pinned for the transfer.
func BuildBoundary(store *dag.Store, rootHash merkle.Hash) SnapshotBoundary {
	heads := store.GetHeads()
	wireHeads := make([][32]byte, len(heads))
	for i, h := range heads {
		wireHeads[i] = h
	}
	return SnapshotBoundary{RootHash: rootHash, DagHeads: wireHeads}
}

// encodeChunk compresses a page of records with s2 (substituting for
// spec.md's "lz4" — see DESIGN.md) and frames it as a SnapshotChunk.
func encodeChunk(records []SnapshotRecord) (*SnapshotChunk, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("encode empty chunk: %w", calerr.ErrProtocolError)
	}
	raw, err := wire.Encode(wire.MsgSnapshotPage, records)
	if err != nil {
		return nil, err
	}
	compressed := s2.Encode(nil, raw)
	return &SnapshotChunk{
		StartKey:        records[0].EntityID,
		EndKey:          records[len(records)-1].EntityID,
		Compressed:      compressed,
		UncompressedLen: uint64(len(raw)),
	}, nil
}

// decodeChunk reverses encodeChunk.
func decodeChunk(chunk *SnapshotChunk) ([]SnapshotRecord, error) {
	raw, err := s2.Decode(make([]byte, chunk.UncompressedLen), chunk.Compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot chunk: %w", err)
	}
	frame, err := wire.DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	var records []SnapshotRecord
	if err := wire.Decode(frame.Body, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// BuildSnapshotPages pages every entity state in store into chunks
// bounded by pageLimit (record count) and byteLimit (uncompressed
// bytes), in key order, ready to be sent as a sequence of
// SnapshotChunks.
func (e *Engine) BuildSnapshotPages(ctx context.Context, pageLimit int, byteLimit int64) ([]*SnapshotChunk, error) {
	var pages []*SnapshotChunk
	var current []SnapshotRecord
	var currentBytes int64

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		chunk, err := encodeChunk(current)
		if err != nil {
			return err
		}
		pages = append(pages, chunk)
		current = nil
		currentBytes = 0
		return nil
	}

	err := e.store.IterateEntityStates(ctx, func(entityID string, state []byte) error {
		current = append(current, SnapshotRecord{EntityID: entityID, State: state})
		currentBytes += int64(len(state))
		if len(current) >= pageLimit || currentBytes >= byteLimit {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate entity states: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return pages, nil
}

// ApplySnapshotPages writes every record in pages into the local store,
// used by the snapshot-sync initiator once it has received the full
// page sequence.
func (e *Engine) ApplySnapshotPages(ctx context.Context, pages []*SnapshotChunk) error {
	for _, chunk := range pages {
		records, err := decodeChunk(chunk)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := e.store.PutEntity(ctx, rec.EntityID, rec.State, nil); err != nil {
				return fmt.Errorf("apply snapshot record %s: %w", rec.EntityID, err)
			}
		}
	}
	return nil
}

// InstallBoundaryStub inserts a fake applied delta representing the
// snapshot boundary (id = a hash of the boundary root, parents = [zero],
// empty payload) so deltas that causally follow the snapshot can
// reference it as a known parent, per spec.md §4.5.2 step 4a.
func (e *Engine) InstallBoundaryStub(boundary SnapshotBoundary) bool {
	stubID := merkle.OwnHashOf(append([]byte("snapshot-boundary:"), boundary.RootHash[:]...))
	return e.dagStore.RestoreAppliedDelta(dag.Delta{
		ID:               stubID,
		Parents:          []dag.DeltaID{dag.ZeroParent},
		ExpectedRootHash: boundary.RootHash,
	}, boundary.RootHash)
}

// snapshotBuffer holds deltas announced while a snapshot transfer is in
// flight for this engine's context, bounded by cap; overflow deltas fall
// through to the caller's normal DAG processing rather than being
// dropped, per spec.md §4.5.2 step 4's "bounded count... on overflow new
// deltas fall through to normal processing" rule.
type snapshotBuffer struct {
	mu     sync.Mutex
	active bool
	cap    int
	queued []dag.Delta
}

func (b *snapshotBuffer) begin(cap int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
	b.cap = cap
	b.queued = nil
}

// offer queues d if a snapshot transfer is active and the buffer has
// room, reporting whether it was queued. A false return means the
// caller must apply d through its normal path (no transfer in flight,
// or the bounded queue is already full).
func (b *snapshotBuffer) offer(d dag.Delta) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active || len(b.queued) >= b.cap {
		return false
	}
	b.queued = append(b.queued, d)
	return true
}

func (b *snapshotBuffer) end() []dag.Delta {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	drained := b.queued
	b.queued = nil
	return drained
}

// BufferDuringSnapshot offers d to this context's in-flight snapshot
// buffer; HandleAnnounce calls this before applying a reactively
// announced delta so concurrent writes during a snapshot transfer land
// in the bounded queue instead of racing the transfer.
func (e *Engine) BufferDuringSnapshot(d dag.Delta) bool {
	return e.snapBuf.offer(d)
}

// SnapshotSyncRequest opens a snapshot-sync pass: empty today, a
// distinct type (rather than reusing DeltaSyncBloomRequest) because
// spec.md keeps snapshot sync's boundary negotiation separate from
// delta sync's bloom exchange even though this transport carries
// neither filter nor resume state yet.
type SnapshotSyncRequest struct{}

// SnapshotBoundaryResponse is the responder's pinned boundary plus how
// many SnapshotPageFrames will follow.
type SnapshotBoundaryResponse struct {
	Boundary  SnapshotBoundary
	PageCount uint64
}

// SnapshotPageFrame wraps one page of BuildSnapshotPages' output for
// wire transport.
type SnapshotPageFrame struct {
	Chunk SnapshotChunk
}

func frameSnapshotSyncRequest() ([]byte, error) {
	return wire.Encode(wire.MsgSnapshotRequest, &SnapshotSyncRequest{})
}

func frameSnapshotBoundaryResponse(resp *SnapshotBoundaryResponse) ([]byte, error) {
	return wire.Encode(wire.MsgSnapshotRequest, resp)
}

func frameSnapshotPage(chunk *SnapshotChunk) ([]byte, error) {
	return wire.Encode(wire.MsgSnapshotPage, &SnapshotPageFrame{Chunk: *chunk})
}

// InitiateSnapshotSync runs the initiator side of §4.5.2 over an
// already-open stream: ask the responder to pin a boundary and page its
// full entity-state keyspace, buffer any reactively-announced deltas
// for this context for the duration (replayed at the end), install the
// boundary stub so causally-later deltas can reference it, then verify
// the freshly-applied state matches the pinned boundary before replay.
func (e *Engine) InitiateSnapshotSync(ctx context.Context, stream io.ReadWriter) error {
	framed, err := frameSnapshotSyncRequest()
	if err != nil {
		return err
	}
	if err := writeFrame(stream, framed); err != nil {
		return err
	}

	respBytes, err := readFrame(stream)
	if err != nil {
		return err
	}
	frame, err := wire.DecodeFrame(respBytes)
	if err != nil {
		return err
	}
	var boundaryResp SnapshotBoundaryResponse
	if err := wire.Decode(frame.Body, &boundaryResp); err != nil {
		return err
	}

	e.snapBuf.begin(e.cfg.SnapshotBufferCap)
	pages := make([]*SnapshotChunk, 0, boundaryResp.PageCount)
	for i := uint64(0); i < boundaryResp.PageCount; i++ {
		if err := ctx.Err(); err != nil {
			e.snapBuf.end()
			return err
		}
		pageBytes, err := readFrame(stream)
		if err != nil {
			e.snapBuf.end()
			return fmt.Errorf("read snapshot page %d/%d: %w", i+1, boundaryResp.PageCount, err)
		}
		pageFrame, err := wire.DecodeFrame(pageBytes)
		if err != nil {
			e.snapBuf.end()
			return err
		}
		var page SnapshotPageFrame
		if err := wire.Decode(pageFrame.Body, &page); err != nil {
			e.snapBuf.end()
			return err
		}
		chunk := page.Chunk
		pages = append(pages, &chunk)
	}

	if err := e.ApplySnapshotPages(ctx, pages); err != nil {
		e.snapBuf.end()
		return fmt.Errorf("apply snapshot pages: %w", err)
	}
	e.InstallBoundaryStub(boundaryResp.Boundary)

	if err := VerifyBoundary(e.store.RootHash(e.rootEntityID), boundaryResp.Boundary.RootHash); err != nil {
		e.snapBuf.end()
		return err
	}

	for _, buffered := range e.snapBuf.end() {
		if _, _, err := e.dagStore.AddDelta(ctx, buffered); err != nil {
			return fmt.Errorf("replay buffered delta %x after snapshot: %w", buffered.ID, err)
		}
	}
	return nil
}

// RespondSnapshotSync is the responder's side for a standalone stream:
// read the request frame, then run respondSnapshotSyncBody. ServeStream
// instead dispatches an already-read SnapshotSyncRequest frame straight
// to respondSnapshotSyncBody, since its read loop has already consumed
// the request by the time it switches on frame.Type.
func (e *Engine) RespondSnapshotSync(ctx context.Context, stream io.ReadWriter, pageLimit int, byteLimit int64) error {
	reqBytes, err := readFrame(stream)
	if err != nil {
		return err
	}
	frame, err := wire.DecodeFrame(reqBytes)
	if err != nil {
		return err
	}
	var req SnapshotSyncRequest
	if err := wire.Decode(frame.Body, &req); err != nil {
		return err
	}
	return e.respondSnapshotSyncBody(ctx, stream, pageLimit, byteLimit)
}

func (e *Engine) respondSnapshotSyncBody(ctx context.Context, stream io.ReadWriter, pageLimit int, byteLimit int64) error {
	rootHash := e.store.RootHash(e.rootEntityID)
	boundary := BuildBoundary(e.dagStore, rootHash)
	pages, err := e.BuildSnapshotPages(ctx, pageLimit, byteLimit)
	if err != nil {
		return fmt.Errorf("build snapshot pages: %w", err)
	}

	framed, err := frameSnapshotBoundaryResponse(&SnapshotBoundaryResponse{Boundary: boundary, PageCount: uint64(len(pages))})
	if err != nil {
		return err
	}
	if err := writeFrame(stream, framed); err != nil {
		return err
	}

	for _, chunk := range pages {
		pageFramed, err := frameSnapshotPage(chunk)
		if err != nil {
			return err
		}
		if err := writeFrame(stream, pageFramed); err != nil {
			return err
		}
	}
	return nil
}
