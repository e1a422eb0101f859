package sync

import (
	"context"
	"fmt"
	"io"

	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/wire"
)

// ServeStream is the responder-side dispatcher for an already-open
// stream: it reads one frame at a time, dispatches by wire.MessageType
// to the matching sync strategy, and loops until the stream closes or
// ctx is done. One physical stream can therefore carry a delta-sync
// round followed by zero or more ancestor-request rounds (reactive
// sync's BFS walk) without the initiator needing to open a fresh
// stream per message, matching spec.md §5's "stream handlers run on a
// shared asynchronous executor" model.
func (e *Engine) ServeStream(ctx context.Context, stream io.ReadWriter, historyPruned bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		reqBytes, err := readFrame(stream)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		frame, err := wire.DecodeFrame(reqBytes)
		if err != nil {
			return err
		}

		switch frame.Type {
		case wire.MsgDeltaRequest:
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
			if err := writeFrame(stream, framed); err != nil {
				return err
			}

		case wire.MsgSnapshotRequest:
			var req SnapshotSyncRequest
			if err := wire.Decode(frame.Body, &req); err != nil {
				return err
			}
			if err := e.respondSnapshotSyncBody(ctx, stream, e.cfg.PageLimit, e.cfg.ByteLimit); err != nil {
				return err
			}

		case wire.MsgMerkleDiffRequest:
			var req MerkleSyncRequest
			if err := wire.Decode(frame.Body, &req); err != nil {
				return err
			}
			if req.Kind == merkleKindDone {
				continue
			}
			reply := e.handleMerkleRequest(ctx, &req)
			framed, err := frameMerkleReply(reply)
			if err != nil {
				return err
			}
			if err := writeFrame(stream, framed); err != nil {
				return err
			}

		case wire.MsgEntityDiffRequest:
			var req EntitySyncRequest
			if err := wire.Decode(frame.Body, &req); err != nil {
				return err
			}
			if req.Kind == entityKindDone {
				continue
			}
			reply := e.handleEntityRequest(ctx, &req)
			framed, err := frameEntityReply(reply)
			if err != nil {
				return err
			}
			if err := writeFrame(stream, framed); err != nil {
				return err
			}

		case wire.MsgAncestorRequest:
			var req AncestorRequest
			if err := wire.Decode(frame.Body, &req); err != nil {
				return err
			}
			var deltas []WireDelta
			for _, raw := range req.WantIDs {
				if d, ok := e.dagStore.GetDelta(dag.DeltaID(raw)); ok {
					deltas = append(deltas, toWireDelta(d))
				}
			}
			framed, err := frameAncestorResponse(&AncestorResponse{Deltas: deltas})
			if err != nil {
				return err
			}
			if err := writeFrame(stream, framed); err != nil {
				return err
			}

		default:
			return fmt.Errorf("serve stream: unexpected message type %d", frame.Type)
		}
	}
}
