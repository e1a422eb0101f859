package sync

import (
	"context"
	"fmt"
	"io"

	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/wire"
)

// DeltaAnnounce is the broadcast a peer sends whenever it applies a new
// delta, carrying just enough to let a receiver detect a gap (§4.5.6
// "reactive sync": an announce referencing unknown parents triggers an
// ancestor fetch before the announced delta itself can be applied).
type DeltaAnnounce struct {
	Delta WireDelta
}

// AncestorRequest asks the announce's sender for a batch of delta IDs a
// receiver doesn't yet have, one step of the BFS ancestor walk.
type AncestorRequest struct {
	WantIDs [][32]byte
}

// AncestorResponse returns whichever of the requested IDs the responder
// has (applied or pending); a requested ID absent from Deltas tells the
// initiator it has reached genesis or the edge of the responder's own
// history, naturally terminating that branch of the walk.
type AncestorResponse struct {
	Deltas []WireDelta
}

func frameAncestorRequest(req *AncestorRequest) ([]byte, error) {
	return wire.Encode(wire.MsgAncestorRequest, req)
}

func frameAncestorResponse(resp *AncestorResponse) ([]byte, error) {
	return wire.Encode(wire.MsgAncestorResponse, resp)
}

func frameAnnounce(a *DeltaAnnounce) ([]byte, error) {
	return wire.Encode(wire.MsgDeltaAnnounce, a)
}

// BuildAnnounce wraps a just-applied delta for broadcast.
func BuildAnnounce(d dag.Delta) *DeltaAnnounce {
	return &DeltaAnnounce{Delta: toWireDelta(d)}
}

// HandleAnnounce implements the receiving side of reactive sync: if the
// announced delta's parents are all already known, it's applied
// directly; otherwise stream opens a BFS ancestor walk against the
// announce's source, fetching one frontier of missing parents at a
// time (unbounded depth, terminating at genesis or the first delta
// already known locally), then applies every fetched delta in
// topological order followed by the original announcement.
func (e *Engine) HandleAnnounce(ctx context.Context, stream io.ReadWriter, announce *DeltaAnnounce) error {
	head := fromWireDelta(announce.Delta)
	if e.dagStore.HasDelta(head.ID) {
		return nil
	}
	if e.BufferDuringSnapshot(head) {
		return nil
	}

	seen := map[dag.DeltaID]struct{}{head.ID: {}}
	var collected []dag.Delta

	frontier := missingParents(e.dagStore, head, seen)
	for len(frontier) > 0 {
		resp, err := e.requestAncestors(stream, frontier)
		if err != nil {
			return fmt.Errorf("fetch ancestor batch: %w", err)
		}

		var next []dag.DeltaID
		for _, wd := range resp.Deltas {
			d := fromWireDelta(wd)
			if _, ok := seen[d.ID]; ok {
				continue
			}
			seen[d.ID] = struct{}{}
			collected = append(collected, d)
			next = append(next, missingParents(e.dagStore, d, seen)...)
		}
		// Any ID the responder didn't answer for is a dead end (genesis
		// or beyond the responder's own retained history) — drop it
		// rather than looping forever.
		frontier = dedupeIDs(next)
	}

	for _, d := range dag.TopoSort(collected) {
		if _, _, err := e.dagStore.AddDelta(ctx, d); err != nil {
			return fmt.Errorf("apply fetched ancestor %x: %w", d.ID, err)
		}
	}
	if _, _, err := e.dagStore.AddDelta(ctx, head); err != nil {
		return fmt.Errorf("apply announced delta %x: %w", head.ID, err)
	}
	return nil
}

// requestAncestors sends one AncestorRequest for ids and waits for the
// matching response.
func (e *Engine) requestAncestors(stream io.ReadWriter, ids []dag.DeltaID) (*AncestorResponse, error) {
	want := make([][32]byte, len(ids))
	for i, id := range ids {
		want[i] = id
	}
	framed, err := frameAncestorRequest(&AncestorRequest{WantIDs: want})
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
	var resp AncestorResponse
	if err := wire.Decode(frame.Body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RespondAncestorRequest is the announce source's side: answer with
// whichever requested deltas are known locally (applied or pending),
// silently omitting the rest so the requester's walk terminates there.
func (e *Engine) RespondAncestorRequest(stream io.ReadWriter) error {
	reqBytes, err := readFrame(stream)
	if err != nil {
		return err
	}
	frame, err := wire.DecodeFrame(reqBytes)
	if err != nil {
		return err
	}
	var req AncestorRequest
	if err := wire.Decode(frame.Body, &req); err != nil {
		return err
	}

	var deltas []WireDelta
	for _, raw := range req.WantIDs {
		id := dag.DeltaID(raw)
		if d, ok := e.dagStore.GetDelta(id); ok {
			deltas = append(deltas, toWireDelta(d))
		}
	}
	framed, err := frameAncestorResponse(&AncestorResponse{Deltas: deltas})
	if err != nil {
		return err
	}
	return writeFrame(stream, framed)
}

// BroadcastAnnounce sends a delta announcement to every member of the
// context over e.transport, the proactive counterpart to reactive
// sync's receiving side.
func (e *Engine) BroadcastAnnounce(ctx context.Context, topic string, d dag.Delta) error {
	framed, err := frameAnnounce(BuildAnnounce(d))
	if err != nil {
		return err
	}
	return e.transport.Broadcast(ctx, topic, framed)
}

func missingParents(store *dag.Store, d dag.Delta, seen map[dag.DeltaID]struct{}) []dag.DeltaID {
	var missing []dag.DeltaID
	for _, p := range d.Parents {
		if p == dag.ZeroParent {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		if store.HasDelta(p) {
			continue
		}
		missing = append(missing, p)
	}
	return missing
}

func dedupeIDs(ids []dag.DeltaID) []dag.DeltaID {
	seen := make(map[dag.DeltaID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
