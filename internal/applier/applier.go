// Package applier bridges the causal DAG store, the injected Executor
// capability, and CRDT storage: decrypting a delta's payload, invoking
// the Executor to mutate entity state, and reporting back the post-
// application root hash the DAG store uses to detect sequential vs
// merge application on future children. Grounded on the teacher's
// cmd/rechain/main.go wiring order (storage constructed before the
// component that consumes it) and internal/consensus's
// commit-then-persist sequencing (decode payload, invoke the stateful
// side, record the outcome).
package applier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/calimero-network/core/internal/capability"
	"github.com/calimero-network/core/internal/crypto"
	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/logging"
	"github.com/calimero-network/core/internal/storage"
	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/config"
	"github.com/calimero-network/core/pkg/crdt"
	"github.com/calimero-network/core/pkg/merkle"
)

// applyMethod is the internal Executor method name used for delta
// application; its exact spelling is a contract between this package
// and whatever Executor implementation the host wires in.
const applyMethod = "__apply_actions"

// SenderKeyResolver looks up the symmetric secret and current epoch an
// author's deltas are encrypted under, so the Applier can decrypt
// without holding identity state itself.
type SenderKeyResolver interface {
	SenderKey(ctx context.Context, contextID, authorID string) (secret []byte, epoch uint64, err error)
}

// Envelope is the internal contract passed to the Executor: the decoded
// actions a delta carries, plus whether the DAG store determined this
// application is sequential or a merge.
type Envelope struct {
	ContextID string       `json:"context_id"`
	DeltaID   string       `json:"delta_id"`
	Actions   []crdt.Action `json:"actions"`
	Merge     bool         `json:"merge"`
}

// Outcome is the Executor's report of what happened: the entity graph's
// new root hash, any opaque event bytes the method emitted alongside
// its actions, or an application-level error message (distinct from a
// transport/runtime error, which the Executor returns directly).
type Outcome struct {
	RootHash merkle.Hash `json:"root_hash"`
	Events   []byte      `json:"events,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Applier implements dag.Applier.
type Applier struct {
	executor     capability.Executor
	keys         SenderKeyResolver
	store        *storage.CRDTStore
	rootEntityID string
	blobWait     blobWaitPolicy
}

// New constructs an Applier. rootEntityID names the context's top-level
// entity whose full_hash is the context's root hash.
func New(executor capability.Executor, keys SenderKeyResolver, store *storage.CRDTStore, rootEntityID string) *Applier {
	return NewWithConfig(executor, keys, store, rootEntityID, config.DefaultConfig().Applier)
}

// NewWithConfig is New with an explicit blob-wait retry policy.
func NewWithConfig(executor capability.Executor, keys SenderKeyResolver, store *storage.CRDTStore, rootEntityID string, cfg config.ApplierConfig) *Applier {
	return &Applier{
		executor:     executor,
		keys:         keys,
		store:        store,
		rootEntityID: rootEntityID,
		blobWait: blobWaitPolicy{
			Base:   cfg.BlobWaitBase,
			Max:    cfg.BlobWaitMax,
			Factor: cfg.BlobWaitFactor,
			Budget: cfg.BlobWaitBudget,
		},
	}
}

// Apply implements the dag.Applier contract (spec.md §4.4).
func (a *Applier) Apply(ctx context.Context, contextID string, d dag.Delta, merge bool) (merkle.Hash, []byte, error) {
	deltaID := fmt.Sprintf("%x", d.ID)
	currentRoot := a.store.RootHash(a.rootEntityID)
	logging.From(ctx).Debugw("applying delta", "context_id", contextID, "delta_id", deltaID,
		"current_root", fmt.Sprintf("%x", currentRoot), "merge", merge)

	secret, epoch, err := a.keys.SenderKey(ctx, contextID, d.AuthorID)
	if err != nil {
		return merkle.Hash{}, nil, calerr.Wrap(calerr.ErrSenderKeyMissing, "resolve sender key for author %s", d.AuthorID)
	}

	plaintext, err := crypto.Open(secret, epoch, deltaID, d.EncryptedPayload)
	if err != nil {
		return merkle.Hash{}, nil, fmt.Errorf("decrypt delta %s: %w", deltaID, err)
	}

	var actions []crdt.Action
	if err := json.Unmarshal(plaintext, &actions); err != nil {
		return merkle.Hash{}, nil, fmt.Errorf("decode delta %s actions: %w", deltaID, calerr.ErrInvalidAction)
	}

	envelopeBytes, err := json.Marshal(Envelope{ContextID: contextID, DeltaID: deltaID, Actions: actions, Merge: merge})
	if err != nil {
		return merkle.Hash{}, nil, fmt.Errorf("encode envelope for delta %s: %w", deltaID, err)
	}

	resultBytes, err := a.executor.Execute(ctx, contextID, applyMethod, envelopeBytes)
	if err != nil {
		if calerr.Classify(err) == calerr.KindApplicationNotAvailable {
			// Poll with bounded exponential backoff in case the blob
			// finishes downloading within our budget; if it does, retry
			// Execute once immediately rather than surfacing the error
			// and waiting for the delta's next receive to try again.
			// Any wait error (budget exhausted, ctx cancelled) just means
			// the blob stayed unavailable; the original
			// ApplicationNotAvailable error below still propagates so the
			// DAG store keeps the delta pending and retries on next
			// receive, rather than rejecting it.
			available, _ := a.blobWait.waitForBlob(ctx, func(pctx context.Context) (bool, error) {
				return a.executor.HasBlob(pctx, contextID)
			})
			if available {
				logging.From(ctx).Debugw("application blob became available during backoff, retrying execute",
					"context_id", contextID, "delta_id", deltaID)
				resultBytes, err = a.executor.Execute(ctx, contextID, applyMethod, envelopeBytes)
			}
		}
		if err != nil {
			return merkle.Hash{}, nil, err
		}
	}

	var outcome Outcome
	if err := json.Unmarshal(resultBytes, &outcome); err != nil {
		return merkle.Hash{}, nil, fmt.Errorf("decode executor outcome for delta %s: %w", deltaID, err)
	}
	if outcome.Error != "" {
		return merkle.Hash{}, nil, fmt.Errorf("%s: %w", outcome.Error, calerr.ErrInvalidAction)
	}

	return outcome.RootHash, outcome.Events, nil
}
