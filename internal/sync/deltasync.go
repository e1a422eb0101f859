package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/wire"
	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/hlc"
)

// DeltaSyncBloomRequest is the initiator's bloom filter of its applied
// delta IDs plus the target false-positive rate it was built at,
// expressed as basis points (RLP has no float type).
type DeltaSyncBloomRequest struct {
	FilterBytes []byte
	FPRateBps   uint32
}

// DeltaSyncResponse carries the deltas the responder determined are
// absent from the initiator's filter, in topological order, or a flag
// asking the initiator to fall back to snapshot sync because the
// responder's retention window has already pruned the needed history.
type DeltaSyncResponse struct {
	SnapshotRequired bool
	Deltas           []WireDelta
}

// WireDelta is the RLP-safe projection of dag.Delta (Hash/[32]byte
// arrays RLP-encode natively; HLC carries as its packed components).
type WireDelta struct {
	ID               [32]byte
	Parents          [][32]byte
	EncryptedPayload []byte
	AuthorID         string
	HLCPhysicalMs    uint64
	HLCCounter       uint32
	HLCNodeID        string
	ExpectedRootHash [32]byte
	Events           []byte
}

// BuildBloomRequest constructs the bloom filter of every applied delta
// ID in store, at the configured false-positive rate, ready to send to
// a peer as the initiator side of delta sync.
func BuildBloomRequest(store *dag.Store, fpRate float64) (*DeltaSyncBloomRequest, error) {
	ids := store.GetAppliedDeltaIDs()
	n := uint(len(ids))
	if n == 0 {
		n = 1
	}
	filter := bloom.NewWithEstimates(n, fpRate)
	for _, id := range ids {
		filter.Add(id[:])
	}

	var buf bytes.Buffer
	if _, err := filter.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize bloom filter: %w", err)
	}
	return &DeltaSyncBloomRequest{FilterBytes: buf.Bytes(), FPRateBps: uint32(fpRate * 10000)}, nil
}

// HandleBloomRequest is the responder side: it decodes the initiator's
// filter, finds every applied delta the filter reports absent, and
// returns them in ancestors-first order. When historyPruned is set, the
// filter is not consulted and the response only reports that snapshot
// sync is required instead.
func HandleBloomRequest(store *dag.Store, req *DeltaSyncBloomRequest, historyPruned bool) (*DeltaSyncResponse, error) {
	if historyPruned {
		return &DeltaSyncResponse{SnapshotRequired: true}, nil
	}

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(req.FilterBytes)); err != nil {
		return nil, fmt.Errorf("decode bloom filter: %w", calerr.Wrap(calerr.ErrProtocolError, "%v", err))
	}

	missing := store.GetDeltasNotInBloom(filter)
	ordered := dag.TopoSort(missing)

	wireDeltas := make([]WireDelta, len(ordered))
	for i, d := range ordered {
		wireDeltas[i] = toWireDelta(d)
	}
	return &DeltaSyncResponse{Deltas: wireDeltas}, nil
}

func toWireDelta(d dag.Delta) WireDelta {
	parents := make([][32]byte, len(d.Parents))
	for i, p := range d.Parents {
		parents[i] = p
	}
	return WireDelta{
		ID:               d.ID,
		Parents:          parents,
		EncryptedPayload: d.EncryptedPayload,
		AuthorID:         d.AuthorID,
		HLCPhysicalMs:    uint64(d.HLC.Physical),
		HLCCounter:       d.HLC.Counter,
		HLCNodeID:        d.HLC.NodeID,
		ExpectedRootHash: d.ExpectedRootHash,
		Events:           d.Events,
	}
}

// applyWireDeltas feeds a responder's batch into the local DAG store in
// the order received (already topologically sorted by the sender), used
// by the initiator once it receives a DeltaSyncResponse.
func applyWireDeltas(ctx context.Context, store *dag.Store, deltas []WireDelta) error {
	for _, wd := range deltas {
		d := fromWireDelta(wd)
		if _, _, err := store.AddDelta(ctx, d); err != nil {
			return fmt.Errorf("add delta %x from delta sync: %w", d.ID, err)
		}
	}
	return nil
}

func fromWireDelta(wd WireDelta) dag.Delta {
	parents := make([]dag.DeltaID, len(wd.Parents))
	copy(parents, wd.Parents)
	return dag.Delta{
		ID:               wd.ID,
		Parents:          parents,
		EncryptedPayload: wd.EncryptedPayload,
		AuthorID:         wd.AuthorID,
		HLC:              hlc.Timestamp{Physical: int64(wd.HLCPhysicalMs), Counter: wd.HLCCounter, NodeID: wd.HLCNodeID},
		ExpectedRootHash: wd.ExpectedRootHash,
		Events:           wd.Events,
	}
}

// frameBloomRequest/frameBloomResponse wrap the two message types for
// transport over a capability.Transport stream via internal/wire.
func frameBloomRequest(req *DeltaSyncBloomRequest) ([]byte, error) {
	return wire.Encode(wire.MsgDeltaRequest, req)
}

func frameBloomResponse(resp *DeltaSyncResponse) ([]byte, error) {
	return wire.Encode(wire.MsgDeltaBatch, resp)
}

// InitiateDeltaSync runs the initiator side of §4.5.1 over an
// already-open stream: send our bloom filter, wait for the response,
// and feed any returned deltas into the local DAG store. Returns
// whether the responder asked us to fall back to snapshot sync.
func (e *Engine) InitiateDeltaSync(ctx context.Context, stream io.ReadWriter) (snapshotRequired bool, err error) {
	req, err := BuildBloomRequest(e.dagStore, e.cfg.BloomFPRate)
	if err != nil {
		return false, err
	}
	framed, err := frameBloomRequest(req)
	if err != nil {
		return false, err
	}
	if err := writeFrame(stream, framed); err != nil {
		return false, err
	}

	respBytes, err := readFrame(stream)
	if err != nil {
		return false, err
	}
	frame, err := wire.DecodeFrame(respBytes)
	if err != nil {
		return false, err
	}
	var resp DeltaSyncResponse
	if err := wire.Decode(frame.Body, &resp); err != nil {
		return false, err
	}
	if resp.SnapshotRequired {
		return true, nil
	}
	return false, applyWireDeltas(ctx, e.dagStore, resp.Deltas)
}

// RespondDeltaSync runs the responder side: read the initiator's bloom
// filter, compute the missing set, and write the response back.
// historyPruned reports whether this context's retention window has
// already discarded history the initiator might need.
func (e *Engine) RespondDeltaSync(stream io.ReadWriter, historyPruned bool) error {
	reqBytes, err := readFrame(stream)
	if err != nil {
		return err
	}
	frame, err := wire.DecodeFrame(reqBytes)
	if err != nil {
		return err
	}
	var req DeltaSyncBloomRequest
	if err := wire.Decode(frame.Body, &req); err != nil {
		return err
	}

	resp, err := HandleBloomRequest(e.dagStore, &req, historyPruned)
	if err != nil {
		return err
	}
	framed, err := frameBloomResponse(resp)
	if err != nil {
		return err
	}
	return writeFrame(stream, framed)
}
