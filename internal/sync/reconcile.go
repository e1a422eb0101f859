package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/calimero-network/core/pkg/calerr"
)

// SplitTimeoutThirds divides a configured exchange timeout into roughly
// equal thirds for handshake, transfer, and verify, per spec.md §5.
func SplitTimeoutThirds(total time.Duration) (handshake, transfer, verify time.Duration) {
	third := total / 3
	return third, third, total - 2*third
}

// Reconcile runs one proactive or on-demand sync exchange against peer
// over e.transport: open a stream, run delta sync within the transfer
// budget, fall back to snapshot sync if the responder's history has
// been pruned past what delta sync can bridge, then spend the verify
// budget confirming no further deltas remain outstanding. The protocol
// ID names which wire protocol the responder's ServeStream loop is
// listening on.
func (e *Engine) Reconcile(ctx context.Context, p peer.ID, protocolID string) error {
	_, transferBudget, verifyBudget := SplitTimeoutThirds(e.cfg.Timeout)

	stream, err := e.transport.OpenStream(ctx, p, protocolID)
	if err != nil {
		return fmt.Errorf("open sync stream to %s: %w", p, calerr.Wrap(calerr.ErrTimeout, "%v", err))
	}
	defer func() {
		if closer, ok := stream.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}()

	transferCtx, transferCancel := context.WithTimeout(ctx, transferBudget)
	defer transferCancel()
	snapshotRequired, err := e.InitiateDeltaSync(transferCtx, stream)
	if err != nil {
		return fmt.Errorf("delta sync with %s: %w", p, err)
	}
	if snapshotRequired {
		// The responder's retention window has already pruned history
		// delta sync needed; fall back to a full state transfer on the
		// same stream rather than surfacing this as a reconciliation
		// failure, per spec.md §4.5.2.
		if err := e.InitiateSnapshotSync(transferCtx, stream); err != nil {
			return fmt.Errorf("snapshot sync fallback with %s: %w", p, err)
		}
	}

	// Verify pass: a second bloom round should now find nothing missing,
	// confirming the transfer above actually converged the two replicas.
	// A responder that already answered with a snapshot keeps reporting
	// pruned history, so that report only fails the pass when no snapshot
	// fallback ran.
	verifyCtx, verifyCancel := context.WithTimeout(ctx, verifyBudget)
	defer verifyCancel()
	stillPruned, err := e.InitiateDeltaSync(verifyCtx, stream)
	if err != nil {
		return fmt.Errorf("verify pass with %s: %w", p, err)
	}
	if stillPruned && !snapshotRequired {
		return fmt.Errorf("verify pass with %s: %w", p, calerr.Wrap(calerr.ErrProtocolError, "responder reported pruned history mid-exchange"))
	}
	return nil
}
