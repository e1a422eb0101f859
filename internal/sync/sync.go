// Package sync implements on-demand reconciliation between two
// replicas of a context: delta sync (bloom-filter reconciliation over
// the causal DAG), snapshot sync (key-range state transfer), Merkle
// sync (resumable tree-diff traversal), and entity sync (strategies
// operating directly on CRDT entities), plus the per-author key-share
// handshake that authenticates delta decryption keys between peers.
// Reactive sync (an incoming broadcast references unknown parents) and
// proactive sync (scheduled or user-triggered reconciliation) both
// funnel through the same strategies.
package sync

import (
	"github.com/calimero-network/core/internal/capability"
	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/storage"
	"github.com/calimero-network/core/pkg/config"
)

// Engine holds everything one context's sync operations need: its DAG
// store and CRDT storage, the transport to reach peers over, and the
// tunables governing paging/bloom/jitter.
type Engine struct {
	contextID    string
	rootEntityID string
	dagStore     *dag.Store
	store        *storage.CRDTStore
	transport    capability.Transport
	cfg          config.SyncConfig

	snapBuf snapshotBuffer
}

// New constructs a sync Engine for one context. rootEntityID names the
// context's top-level entity, the same convention internal/applier uses
// to compute a whole-context root hash for boundary pinning and
// post-snapshot verification.
func New(contextID string, rootEntityID string, dagStore *dag.Store, store *storage.CRDTStore, transport capability.Transport, cfg config.SyncConfig) *Engine {
	return &Engine{contextID: contextID, rootEntityID: rootEntityID, dagStore: dagStore, store: store, transport: transport, cfg: cfg}
}
