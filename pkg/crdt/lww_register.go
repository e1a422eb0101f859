package crdt

import (
	"encoding/json"

	"github.com/calimero-network/core/pkg/hlc"
)

// LwwRegister holds a single last-write-wins value, tagged with the HLC
// timestamp and node that wrote it. Concurrent writes resolve on
// timestamp, then on node_id as the final tie-break.
type LwwRegister struct {
	NodeID    string        `json:"node_id"`
	Val       []byte        `json:"value"`
	Timestamp hlc.Timestamp `json:"timestamp"`
}

// NewLwwRegister creates an empty register owned by nodeID.
func NewLwwRegister(nodeID string) *LwwRegister {
	return &LwwRegister{NodeID: nodeID}
}

// Type implements CRDT.
func (r *LwwRegister) Type() Type { return TypeLWWRegister }

// Get returns the current raw value.
func (r *LwwRegister) Get() []byte { return r.Val }

// Set stores a new value stamped with ts and emits the Action describing
// the write.
func (r *LwwRegister) Set(entityID string, value []byte, ts hlc.Timestamp) Action {
	r.Val = value
	r.Timestamp = ts
	return Action{
		EntityID: entityID,
		Kind:     "lww_set",
		Payload:  value,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeLWWRegister},
	}
}

// Merge keeps the value with the later timestamp, breaking ties on
// node_id so every replica converges on the same winner.
func (r *LwwRegister) Merge(other CRDT) error {
	o, ok := other.(*LwwRegister)
	if !ok {
		return typeMismatch(TypeLWWRegister, other)
	}
	cmp := o.Timestamp.Compare(r.Timestamp)
	if cmp > 0 || (cmp == 0 && o.NodeID > r.NodeID) {
		r.Val = o.Val
		r.Timestamp = o.Timestamp
		r.NodeID = o.NodeID
	}
	return nil
}

// Marshal implements CRDT.
func (r *LwwRegister) Marshal() ([]byte, error) { return json.Marshal(r) }

// Unmarshal implements CRDT.
func (r *LwwRegister) Unmarshal(data []byte) error { return json.Unmarshal(data, r) }
