package crdt

import (
	"encoding/json"
	"sync"

	"github.com/calimero-network/core/pkg/hlc"
)

type vectorSlot struct {
	Value     []byte        `json:"value"`
	Timestamp hlc.Timestamp `json:"timestamp"`
	NodeID    string        `json:"node_id"`
	Tombstone bool          `json:"tombstone"`
}

// Vector is an index-aligned CRDT array: each index behaves like an
// independent LwwRegister, so concurrent writes to the same index resolve
// by timestamp/node_id, while writes to distinct indices never conflict.
// Length only ever grows; no operation removes or shrinks slots,
// preserving index stability across merges.
type Vector struct {
	nodeID string
	mu     sync.RWMutex
	slots  []vectorSlot
}

// NewVector creates an empty Vector owned by nodeID.
func NewVector(nodeID string) *Vector {
	return &Vector{nodeID: nodeID}
}

// Type implements CRDT.
func (v *Vector) Type() Type { return TypeVector }

// Set writes value at index, growing the vector if needed, and returns
// the resulting Action.
func (v *Vector) Set(entityID string, index int, value []byte, ts hlc.Timestamp) Action {
	v.mu.Lock()
	for len(v.slots) <= index {
		v.slots = append(v.slots, vectorSlot{Tombstone: true})
	}
	cur := v.slots[index]
	if !cur.Tombstone || cur.Timestamp == (hlc.Timestamp{}) {
		cmp := ts.Compare(cur.Timestamp)
		if cmp < 0 || (cmp == 0 && v.nodeID <= cur.NodeID) {
			v.mu.Unlock()
			return Action{}
		}
	}
	v.slots[index] = vectorSlot{Value: value, Timestamp: ts, NodeID: v.nodeID}
	v.mu.Unlock()

	payload, _ := json.Marshal(struct {
		Index int    `json:"index"`
		Value []byte `json:"value"`
	}{index, value})
	return Action{
		EntityID: entityID,
		Kind:     "vector_set",
		Payload:  payload,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeVector},
	}
}

// Get returns the value at index, or (nil, false) if unset/tombstoned.
func (v *Vector) Get(index int) ([]byte, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if index < 0 || index >= len(v.slots) || v.slots[index].Tombstone {
		return nil, false
	}
	return v.slots[index].Value, true
}

// Len returns the backing length, including trailing tombstoned slots.
func (v *Vector) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.slots)
}

// Merge applies the per-index LWW rule, growing the shorter vector.
func (v *Vector) Merge(other CRDT) error {
	o, ok := other.(*Vector)
	if !ok {
		return typeMismatch(TypeVector, other)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	o.mu.RLock()
	defer o.mu.RUnlock()

	for len(v.slots) < len(o.slots) {
		v.slots = append(v.slots, vectorSlot{Tombstone: true})
	}
	for i, oslot := range o.slots {
		cur := v.slots[i]
		cmp := oslot.Timestamp.Compare(cur.Timestamp)
		if oslot.Tombstone && cur.Tombstone {
			continue
		}
		if cmp > 0 || (cmp == 0 && oslot.NodeID > cur.NodeID) {
			v.slots[i] = oslot
		}
	}
	return nil
}

// Marshal implements CRDT.
func (v *Vector) Marshal() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return json.Marshal(struct {
		NodeID string       `json:"node_id"`
		Slots  []vectorSlot `json:"slots"`
	}{v.nodeID, v.slots})
}

// Unmarshal implements CRDT.
func (v *Vector) Unmarshal(data []byte) error {
	var aux struct {
		NodeID string       `json:"node_id"`
		Slots  []vectorSlot `json:"slots"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nodeID = aux.NodeID
	v.slots = aux.Slots
	return nil
}
