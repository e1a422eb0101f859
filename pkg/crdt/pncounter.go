package crdt

import (
	"encoding/json"
	"sync"

	"github.com/calimero-network/core/pkg/hlc"
)

// PNCounter is a positive-negative counter: a GCounter pair, one tracking
// increments and one decrements, merged independently then combined.
type PNCounter struct {
	nodeID string
	mu     sync.RWMutex
	P      map[string]int64 `json:"p"`
	N      map[string]int64 `json:"n"`
}

// NewPNCounter creates a PNCounter owned by nodeID.
func NewPNCounter(nodeID string) *PNCounter {
	return &PNCounter{nodeID: nodeID, P: make(map[string]int64), N: make(map[string]int64)}
}

// Type implements CRDT.
func (c *PNCounter) Type() Type { return TypePNCounter }

// Increment adds by (must be positive) to this node's positive share.
func (c *PNCounter) Increment(entityID string, by int64, ts hlc.Timestamp) Action {
	if by <= 0 {
		return Action{}
	}
	c.mu.Lock()
	c.P[c.nodeID] += by
	c.mu.Unlock()
	return c.opAction(entityID, "pncounter_inc", by, ts)
}

// Decrement adds by (must be positive) to this node's negative share.
func (c *PNCounter) Decrement(entityID string, by int64, ts hlc.Timestamp) Action {
	if by <= 0 {
		return Action{}
	}
	c.mu.Lock()
	c.N[c.nodeID] += by
	c.mu.Unlock()
	return c.opAction(entityID, "pncounter_dec", by, ts)
}

func (c *PNCounter) opAction(entityID, kind string, by int64, ts hlc.Timestamp) Action {
	payload, _ := json.Marshal(struct {
		NodeID string `json:"node_id"`
		By     int64  `json:"by"`
	}{c.nodeID, by})
	return Action{
		EntityID: entityID,
		Kind:     kind,
		Payload:  payload,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypePNCounter},
	}
}

// Value returns sum(P) - sum(N).
func (c *PNCounter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var sumP, sumN int64
	for _, v := range c.P {
		sumP += v
	}
	for _, v := range c.N {
		sumN += v
	}
	return sumP - sumN
}

// Merge takes the per-node maximum independently on P and N.
func (c *PNCounter) Merge(other CRDT) error {
	o, ok := other.(*PNCounter)
	if !ok {
		return typeMismatch(TypePNCounter, other)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o.mu.RLock()
	defer o.mu.RUnlock()
	for nodeID, v := range o.P {
		if v > c.P[nodeID] {
			c.P[nodeID] = v
		}
	}
	for nodeID, v := range o.N {
		if v > c.N[nodeID] {
			c.N[nodeID] = v
		}
	}
	return nil
}

// Marshal implements CRDT.
func (c *PNCounter) Marshal() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(struct {
		NodeID string           `json:"node_id"`
		P      map[string]int64 `json:"p"`
		N      map[string]int64 `json:"n"`
	}{c.nodeID, c.P, c.N})
}

// Unmarshal implements CRDT.
func (c *PNCounter) Unmarshal(data []byte) error {
	var aux struct {
		NodeID string           `json:"node_id"`
		P      map[string]int64 `json:"p"`
		N      map[string]int64 `json:"n"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeID = aux.NodeID
	c.P, c.N = aux.P, aux.N
	if c.P == nil {
		c.P = make(map[string]int64)
	}
	if c.N == nil {
		c.N = make(map[string]int64)
	}
	return nil
}
