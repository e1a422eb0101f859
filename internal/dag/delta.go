// Package dag implements the causal DAG store: the per-context buffer
// that validates, orders, and cascades causal deltas before handing
// them to the Delta Applier. Grounded on _examples/luxfi-consensus's
// dag/dag.go BlockID/tips-map idiom (adding a node drops its parents
// from the tip set), generalized from a single linear tip to a
// multi-parent heads set with a pending/applied split, and on the
// teacher's internal/consensus/consensus.go votingMutex pattern for
// per-context write serialization.
package dag

import (
	"time"

	"github.com/calimero-network/core/pkg/crdt"
	"github.com/calimero-network/core/pkg/hlc"
	"github.com/calimero-network/core/pkg/merkle"
)

// DeltaID identifies a causal delta by its content hash over
// parents+payload+hlc.
type DeltaID = merkle.Hash

// ZeroParent is the sentinel parent ID denoting a genesis delta.
var ZeroParent DeltaID

// Delta is an encrypted bundle of storage actions produced by a single
// method execution, carrying its causal parents and the author's
// expected post-application root hash.
type Delta struct {
	ID               DeltaID
	Parents          []DeltaID
	EncryptedPayload []byte
	AuthorID         string
	HLC              hlc.Timestamp
	ExpectedRootHash merkle.Hash
	// Events carries whatever opaque event bytes the Executor emitted
	// alongside actions when the author first applied this delta
	// locally. The DAG store and Applier never interpret it — it rides
	// along with the delta (storage, broadcast, delta sync) purely for
	// downstream consumers (e.g. a subscriber API) to replay.
	Events []byte
}

// DecodedDelta is a Delta whose payload has already been decrypted into
// its constituent actions, produced by the Applier for its own use and
// for tests; the DAG store itself only ever stores encrypted Deltas.
type DecodedDelta struct {
	Delta
	Actions []crdt.Action
}

// IsGenesis reports whether d has no causal parents.
func (d *Delta) IsGenesis() bool {
	return len(d.Parents) == 0
}

type pendingEntry struct {
	delta     Delta
	firstSeen time.Time
}
