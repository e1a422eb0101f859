package crdt

import (
	"encoding/json"
	"sync"

	"github.com/calimero-network/core/pkg/hlc"
)

// GCounter is a grow-only counter: each node tracks only its own
// increments, and merge takes the per-node maximum.
type GCounter struct {
	nodeID string
	mu     sync.RWMutex
	counts map[string]int64
}

// NewGCounter creates a GCounter owned by nodeID.
func NewGCounter(nodeID string) *GCounter {
	return &GCounter{nodeID: nodeID, counts: make(map[string]int64)}
}

// Type implements CRDT.
func (c *GCounter) Type() Type { return TypeGCounter }

// Increment adds by (must be positive) to this node's share and returns
// the resulting Action.
func (c *GCounter) Increment(entityID string, by int64, ts hlc.Timestamp) Action {
	if by <= 0 {
		return Action{}
	}
	c.mu.Lock()
	c.counts[c.nodeID] += by
	c.mu.Unlock()
	payload, _ := json.Marshal(struct {
		NodeID string `json:"node_id"`
		By     int64  `json:"by"`
	}{c.nodeID, by})
	return Action{
		EntityID: entityID,
		Kind:     "gcounter_increment",
		Payload:  payload,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeGCounter},
	}
}

// Value returns the sum of every node's contribution.
func (c *GCounter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, v := range c.counts {
		total += v
	}
	return total
}

// Merge takes the per-node maximum, the standard G-Counter merge rule.
func (c *GCounter) Merge(other CRDT) error {
	o, ok := other.(*GCounter)
	if !ok {
		return typeMismatch(TypeGCounter, other)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o.mu.RLock()
	defer o.mu.RUnlock()
	for nodeID, count := range o.counts {
		if count > c.counts[nodeID] {
			c.counts[nodeID] = count
		}
	}
	return nil
}

// Marshal implements CRDT.
func (c *GCounter) Marshal() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(struct {
		NodeID string           `json:"node_id"`
		Counts map[string]int64 `json:"counts"`
	}{c.nodeID, c.counts})
}

// Unmarshal implements CRDT.
func (c *GCounter) Unmarshal(data []byte) error {
	var aux struct {
		NodeID string           `json:"node_id"`
		Counts map[string]int64 `json:"counts"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeID = aux.NodeID
	c.counts = aux.Counts
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	return nil
}
