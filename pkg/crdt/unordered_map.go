package crdt

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/calimero-network/core/pkg/hlc"
)

type mapEntry struct {
	Value     []byte        `json:"value"`
	Timestamp hlc.Timestamp `json:"timestamp"`
	NodeID    string        `json:"node_id"`
	Tombstone bool          `json:"tombstone"`
}

// UnorderedMap is a per-key LWW map: each key merges independently using
// the same timestamp-then-node_id rule as LwwRegister, and deletes are
// tombstones rather than removals so a late-arriving concurrent write
// cannot resurrect a key a delete has already won against (at the delete's
// timestamp).
type UnorderedMap struct {
	nodeID string
	mu     sync.RWMutex
	data   map[string]mapEntry
}

// NewUnorderedMap creates an UnorderedMap owned by nodeID.
func NewUnorderedMap(nodeID string) *UnorderedMap {
	return &UnorderedMap{nodeID: nodeID, data: make(map[string]mapEntry)}
}

// Type implements CRDT.
func (m *UnorderedMap) Type() Type { return TypeUnorderedMap }

func (m *UnorderedMap) set(key string, value []byte, tombstone bool, ts hlc.Timestamp) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.data[key]
	if exists {
		cmp := ts.Compare(cur.Timestamp)
		if cmp < 0 || (cmp == 0 && m.nodeID <= cur.NodeID) {
			return false
		}
	}
	m.data[key] = mapEntry{Value: value, Timestamp: ts, NodeID: m.nodeID, Tombstone: tombstone}
	return true
}

// Put sets key to value and returns the resulting Action.
func (m *UnorderedMap) Put(entityID, key string, value []byte, ts hlc.Timestamp) Action {
	m.set(key, value, false, ts)
	return m.action(entityID, "map_put", key, value, ts)
}

// Delete tombstones key and returns the resulting Action.
func (m *UnorderedMap) Delete(entityID, key string, ts hlc.Timestamp) Action {
	m.set(key, nil, true, ts)
	return m.action(entityID, "map_delete", key, nil, ts)
}

func (m *UnorderedMap) action(entityID, kind, key string, value []byte, ts hlc.Timestamp) Action {
	payload, _ := json.Marshal(struct {
		Key   string `json:"key"`
		Value []byte `json:"value,omitempty"`
	}{key, value})
	return Action{
		EntityID: entityID,
		Kind:     kind,
		Payload:  payload,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeUnorderedMap},
	}
}

// Get returns the value for key and whether it is present (not deleted).
func (m *UnorderedMap) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || e.Tombstone {
		return nil, false
	}
	return e.Value, true
}

// Keys returns every live (non-tombstoned) key, sorted.
func (m *UnorderedMap) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k, e := range m.data {
		if !e.Tombstone {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Merge applies the per-key LWW rule entry by entry.
func (m *UnorderedMap) Merge(other CRDT) error {
	o, ok := other.(*UnorderedMap)
	if !ok {
		return typeMismatch(TypeUnorderedMap, other)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o.mu.RLock()
	defer o.mu.RUnlock()

	for key, oe := range o.data {
		cur, exists := m.data[key]
		if !exists {
			m.data[key] = oe
			continue
		}
		cmp := oe.Timestamp.Compare(cur.Timestamp)
		if cmp > 0 || (cmp == 0 && oe.NodeID > cur.NodeID) {
			m.data[key] = oe
		}
	}
	return nil
}

// Marshal implements CRDT.
func (m *UnorderedMap) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(struct {
		NodeID string              `json:"node_id"`
		Data   map[string]mapEntry `json:"data"`
	}{m.nodeID, m.data})
}

// Unmarshal implements CRDT.
func (m *UnorderedMap) Unmarshal(data []byte) error {
	var aux struct {
		NodeID string              `json:"node_id"`
		Data   map[string]mapEntry `json:"data"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeID = aux.NodeID
	m.data = aux.Data
	if m.data == nil {
		m.data = make(map[string]mapEntry)
	}
	return nil
}
