package crdt

import (
	"encoding/json"
	"sync"

	"github.com/calimero-network/core/pkg/hlc"
)

// MergeFunc resolves two opaque byte states into one. The Executor
// capability supplies this callback for application-defined CRDT
// semantics the replication layer cannot interpret on its own; the
// operation log still records every mutation so replicas can replay even
// if the merge callback itself is pure and stateless.
type MergeFunc func(local, remote []byte) ([]byte, error)

// Custom wraps an opaque byte blob whose merge semantics are entirely
// delegated to an injected MergeFunc, grounded on the operation-dispatch
// idiom used for counter-like ops elsewhere in this package but
// generalized to an external callback instead of a fixed op set.
type Custom struct {
	mu    sync.RWMutex
	State []byte
	merge MergeFunc
}

// NewCustom creates a Custom CRDT with the given merge callback.
func NewCustom(merge MergeFunc) *Custom {
	return &Custom{merge: merge}
}

// Type implements CRDT.
func (c *Custom) Type() Type { return TypeCustom }

// SetMergeFunc (re)binds the merge callback, needed after Unmarshal since
// the callback itself is never serialized.
func (c *Custom) SetMergeFunc(merge MergeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.merge = merge
}

// Apply replaces the state wholesale and returns the Action. Callers
// that need finer-grained ops encode them into value and let the
// Executor's apply path interpret the bytes; Custom itself is opaque.
func (c *Custom) Apply(entityID string, value []byte, ts hlc.Timestamp) Action {
	c.mu.Lock()
	c.State = value
	c.mu.Unlock()
	return Action{
		EntityID: entityID,
		Kind:     "custom_apply",
		Payload:  value,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeCustom},
	}
}

// Merge delegates to the bound MergeFunc. A nil MergeFunc is a
// programmer error: Custom cannot provide a default merge policy since
// its state is opaque by definition.
func (c *Custom) Merge(other CRDT) error {
	o, ok := other.(*Custom)
	if !ok {
		return typeMismatch(TypeCustom, other)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.merge == nil {
		return typeMismatch(TypeCustom, other)
	}
	merged, err := c.merge(c.State, o.State)
	if err != nil {
		return err
	}
	c.State = merged
	return nil
}

// Marshal implements CRDT.
func (c *Custom) Marshal() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(struct {
		State []byte `json:"state"`
	}{c.State})
}

// Unmarshal implements CRDT.
func (c *Custom) Unmarshal(data []byte) error {
	var aux struct {
		State []byte `json:"state"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.State = aux.State
	return nil
}
