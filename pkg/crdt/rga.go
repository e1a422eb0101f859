package crdt

import (
	"encoding/json"
	"sync"

	"github.com/calimero-network/core/pkg/hlc"
)

// PositionID identifies an RGA element by the identity that inserted it
// and a per-author monotonic counter. It doubles as the tie-break key for
// concurrent inserts anchored at the same position: lower (AuthorID,
// Counter) sorts first, lexicographically on AuthorID then numerically on
// Counter.
type PositionID struct {
	AuthorID string `json:"author_id"`
	Counter  uint64 `json:"counter"`
}

// Less implements the deterministic concurrent-insert tie-break: ties
// are broken lexicographically on (author_id, intra-op counter).
func (p PositionID) Less(o PositionID) bool {
	if p.AuthorID != o.AuthorID {
		return p.AuthorID < o.AuthorID
	}
	return p.Counter < o.Counter
}

type rgaElement struct {
	ID        PositionID `json:"id"`
	After     PositionID `json:"after"` // zero value means "head"
	Value     rune       `json:"value"`
	Tombstone bool       `json:"tombstone"`
}

// RGA is a Replicated Growable Array for collaborative plain text. Every
// character is an immutable element anchored after another element's
// PositionID; deletion tombstones rather than removes, so causal inserts
// that raced a delete never leave a dangling anchor. Concurrent inserts
// anchored at the same position are ordered by PositionID.Less.
type RGA struct {
	nodeID  string
	mu      sync.RWMutex
	counter uint64
	elems   []rgaElement // kept in list order, tombstones included
}

// NewRGA creates an empty RGA owned by nodeID.
func NewRGA(nodeID string) *RGA {
	return &RGA{nodeID: nodeID}
}

// Type implements CRDT.
func (r *RGA) Type() Type { return TypeRGA }

func (r *RGA) indexOf(id PositionID) int {
	for i, e := range r.elems {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// insertAfter places elem immediately after the run of elements anchored
// at the same `after` position that sort before it, per the tie-break
// rule, implementing RGA's sequence CRDT insert semantics.
func (r *RGA) insertAfter(elem rgaElement) {
	insertAt := len(r.elems)
	if elem.After != (PositionID{}) {
		afterIdx := r.indexOf(elem.After)
		if afterIdx == -1 {
			r.elems = append(r.elems, elem)
			return
		}
		insertAt = afterIdx + 1
	} else {
		insertAt = 0
	}
	for insertAt < len(r.elems) && r.elems[insertAt].After == elem.After && !elem.ID.Less(r.elems[insertAt].ID) {
		insertAt++
	}
	r.elems = append(r.elems, rgaElement{})
	copy(r.elems[insertAt+1:], r.elems[insertAt:])
	r.elems[insertAt] = elem
}

// InsertAfter inserts value after the element at `after` (the zero
// PositionID means "at the head") and returns the minted PositionID plus
// the resulting Action.
func (r *RGA) InsertAfter(entityID string, after PositionID, value rune, ts hlc.Timestamp) (PositionID, Action) {
	r.mu.Lock()
	r.counter++
	id := PositionID{AuthorID: r.nodeID, Counter: r.counter}
	r.insertAfter(rgaElement{ID: id, After: after, Value: value})
	r.mu.Unlock()

	payload, _ := json.Marshal(struct {
		ID    PositionID `json:"id"`
		After PositionID `json:"after"`
		Value rune       `json:"value"`
	}{id, after, value})
	return id, Action{
		EntityID: entityID,
		Kind:     "rga_insert",
		Payload:  payload,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeRGA},
	}
}

// Delete tombstones the element at id.
func (r *RGA) Delete(entityID string, id PositionID, ts hlc.Timestamp) Action {
	r.mu.Lock()
	if idx := r.indexOf(id); idx != -1 {
		r.elems[idx].Tombstone = true
	}
	r.mu.Unlock()

	payload, _ := json.Marshal(struct {
		ID PositionID `json:"id"`
	}{id})
	return Action{
		EntityID: entityID,
		Kind:     "rga_delete",
		Payload:  payload,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeRGA},
	}
}

// Text renders the current visible (non-tombstoned) sequence.
func (r *RGA) Text() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runes := make([]rune, 0, len(r.elems))
	for _, e := range r.elems {
		if !e.Tombstone {
			runes = append(runes, e.Value)
		}
	}
	return string(runes)
}

// Merge interleaves a remote replica's elements into the local sequence
// by replaying every element the receiver lacks through insertAfter, then
// unions tombstones. Both replicas converge because insertAfter's
// placement rule is a pure function of (after, id).
func (r *RGA) Merge(other CRDT) error {
	o, ok := other.(*RGA)
	if !ok {
		return typeMismatch(TypeRGA, other)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, oe := range o.elems {
		if idx := r.indexOf(oe.ID); idx != -1 {
			if oe.Tombstone {
				r.elems[idx].Tombstone = true
			}
			continue
		}
		r.insertAfter(oe)
	}
	if o.counter > r.counter && o.nodeID == r.nodeID {
		r.counter = o.counter
	}
	return nil
}

// Marshal implements CRDT.
func (r *RGA) Marshal() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return json.Marshal(struct {
		NodeID  string       `json:"node_id"`
		Counter uint64       `json:"counter"`
		Elems   []rgaElement `json:"elems"`
	}{r.nodeID, r.counter, r.elems})
}

// Unmarshal implements CRDT.
func (r *RGA) Unmarshal(data []byte) error {
	var aux struct {
		NodeID  string       `json:"node_id"`
		Counter uint64       `json:"counter"`
		Elems   []rgaElement `json:"elems"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodeID, r.counter, r.elems = aux.NodeID, aux.Counter, aux.Elems
	return nil
}
