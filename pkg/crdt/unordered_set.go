package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/calimero-network/core/pkg/hlc"
)

// UnorderedSet is an add-wins observed-remove set: each add mints a
// unique tag, remove marks every tag currently observed for that element
// as a tombstone, and an element is present iff it has at least one live
// (untombstoned) tag. Concurrent add/remove of the same element resolves
// in favor of add, since a concurrent add mints a tag the remove never
// observed.
type UnorderedSet struct {
	nodeID string
	mu     sync.RWMutex
	seq    uint64
	adds   map[string]map[string]struct{} // element -> live add tags
	tombs  map[string]struct{}            // tags ever removed
}

// NewUnorderedSet creates an UnorderedSet owned by nodeID.
func NewUnorderedSet(nodeID string) *UnorderedSet {
	return &UnorderedSet{
		nodeID: nodeID,
		adds:   make(map[string]map[string]struct{}),
		tombs:  make(map[string]struct{}),
	}
}

// Type implements CRDT.
func (s *UnorderedSet) Type() Type { return TypeUnorderedSet }

func (s *UnorderedSet) nextTag() string {
	s.seq++
	return fmt.Sprintf("%s-%d", s.nodeID, s.seq)
}

// Add inserts element, minting a fresh tag, and returns the Action.
func (s *UnorderedSet) Add(entityID, element string, ts hlc.Timestamp) Action {
	s.mu.Lock()
	tag := s.nextTag()
	if s.adds[element] == nil {
		s.adds[element] = make(map[string]struct{})
	}
	s.adds[element][tag] = struct{}{}
	s.mu.Unlock()

	payload, _ := json.Marshal(struct {
		Element string `json:"element"`
		Tag     string `json:"tag"`
	}{element, tag})
	return Action{
		EntityID: entityID,
		Kind:     "set_add",
		Payload:  payload,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeUnorderedSet},
	}
}

// Remove tombstones every tag currently observed for element.
func (s *UnorderedSet) Remove(entityID, element string, ts hlc.Timestamp) Action {
	s.mu.Lock()
	tags := make([]string, 0, len(s.adds[element]))
	for tag := range s.adds[element] {
		s.tombs[tag] = struct{}{}
		tags = append(tags, tag)
	}
	s.mu.Unlock()

	payload, _ := json.Marshal(struct {
		Element string   `json:"element"`
		Tags    []string `json:"tags"`
	}{element, tags})
	return Action{
		EntityID: entityID,
		Kind:     "set_remove",
		Payload:  payload,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeUnorderedSet},
	}
}

// Contains reports whether element has a live tag.
func (s *UnorderedSet) Contains(element string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for tag := range s.adds[element] {
		if _, dead := s.tombs[tag]; !dead {
			return true
		}
	}
	return false
}

// Elements returns every element with at least one live tag, sorted.
func (s *UnorderedSet) Elements() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.adds))
	for element := range s.adds {
		for tag := range s.adds[element] {
			if _, dead := s.tombs[tag]; !dead {
				out = append(out, element)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Merge unions add-tags and tombstones across both replicas.
func (s *UnorderedSet) Merge(other CRDT) error {
	o, ok := other.(*UnorderedSet)
	if !ok {
		return typeMismatch(TypeUnorderedSet, other)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o.mu.RLock()
	defer o.mu.RUnlock()

	for element, tags := range o.adds {
		if s.adds[element] == nil {
			s.adds[element] = make(map[string]struct{})
		}
		for tag := range tags {
			s.adds[element][tag] = struct{}{}
		}
	}
	for tag := range o.tombs {
		s.tombs[tag] = struct{}{}
	}
	return nil
}

type unorderedSetWire struct {
	NodeID string                         `json:"node_id"`
	Seq    uint64                         `json:"seq"`
	Adds   map[string][]string           `json:"adds"`
	Tombs  []string                      `json:"tombs"`
}

// Marshal implements CRDT.
func (s *UnorderedSet) Marshal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := unorderedSetWire{NodeID: s.nodeID, Seq: s.seq, Adds: make(map[string][]string, len(s.adds))}
	for element, tags := range s.adds {
		list := make([]string, 0, len(tags))
		for tag := range tags {
			list = append(list, tag)
		}
		sort.Strings(list)
		w.Adds[element] = list
	}
	for tag := range s.tombs {
		w.Tombs = append(w.Tombs, tag)
	}
	sort.Strings(w.Tombs)
	return json.Marshal(w)
}

// Unmarshal implements CRDT.
func (s *UnorderedSet) Unmarshal(data []byte) error {
	var w unorderedSetWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeID = w.NodeID
	s.seq = w.Seq
	s.adds = make(map[string]map[string]struct{}, len(w.Adds))
	for element, tags := range w.Adds {
		s.adds[element] = make(map[string]struct{}, len(tags))
		for _, tag := range tags {
			s.adds[element][tag] = struct{}{}
		}
	}
	s.tombs = make(map[string]struct{}, len(w.Tombs))
	for _, tag := range w.Tombs {
		s.tombs[tag] = struct{}{}
	}
	return nil
}
