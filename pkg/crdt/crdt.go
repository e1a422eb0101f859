// Package crdt implements the conflict-free replicated data types used as
// the per-entity state representation in context replication: registers,
// counters, collections, and text, each able to merge concurrent updates
// from independent replicas without coordination.
package crdt

import (
	"fmt"

	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/hlc"
)

// Type identifies a CRDT's merge semantics, stored alongside its state so
// a receiving replica can reject a structurally-incompatible merge.
type Type string

const (
	TypeLWWRegister    Type = "lww_register"
	TypeGCounter       Type = "gcounter"
	TypePNCounter      Type = "pncounter"
	TypeUnorderedMap   Type = "unordered_map"
	TypeUnorderedSet   Type = "unordered_set"
	TypeVector         Type = "vector"
	TypeUserStorage    Type = "user_storage"
	TypeFrozenStorage  Type = "frozen_storage"
	TypeRGA            Type = "rga"
	TypeCustom         Type = "custom"
)

// CRDT is satisfied by every replicated data type in this package. Merge
// folds a remote copy of the same logical entity into the receiver.
// Each type's mutating methods return the Action a local mutation emits
// to the delta log; they are not part of this interface.
type CRDT interface {
	Type() Type
	Merge(other CRDT) error
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

// Metadata accompanies every mutating Action, matching the data model's
// per-entity bookkeeping fields.
type Metadata struct {
	CreatedAt          hlc.Timestamp `json:"created_at"`
	UpdatedAt          hlc.Timestamp `json:"updated_at"`
	CRDTType           Type          `json:"crdt_type"`
	ResolutionStrategy string        `json:"resolution_strategy,omitempty"`
}

// ChildInfo names an ancestor entity a Merkle node's full_hash folds in.
type ChildInfo struct {
	EntityID string `json:"entity_id"`
	FullHash [32]byte `json:"full_hash"`
}

// Action is the unit of mutation a CRDT method emits, destined for the
// causal delta log. Payload is the CRDT-specific encoding of what
// changed (e.g. a single set-key op, an insert-run for RGA).
type Action struct {
	EntityID string      `json:"entity_id"`
	Kind     string      `json:"kind"`
	Payload  []byte      `json:"payload"`
	Children []ChildInfo `json:"children,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// New constructs an empty CRDT of the given Type owned by nodeID. Types
// that need extra construction-time state (FrozenStorage has none,
// Custom needs a MergeFunc) are built directly by their callers instead.
func New(t Type, nodeID string) (CRDT, error) {
	switch t {
	case TypeLWWRegister:
		return NewLwwRegister(nodeID), nil
	case TypeGCounter:
		return NewGCounter(nodeID), nil
	case TypePNCounter:
		return NewPNCounter(nodeID), nil
	case TypeUnorderedMap:
		return NewUnorderedMap(nodeID), nil
	case TypeUnorderedSet:
		return NewUnorderedSet(nodeID), nil
	case TypeVector:
		return NewVector(nodeID), nil
	case TypeUserStorage:
		return NewUserStorage(nodeID), nil
	case TypeFrozenStorage:
		return NewFrozenStorage(), nil
	case TypeRGA:
		return NewRGA(nodeID), nil
	default:
		return nil, fmt.Errorf("%s: %w", t, calerr.ErrInvalidAction)
	}
}

func typeMismatch(want Type, got CRDT) error {
	return fmt.Errorf("%s: expected %s, got %T: %w", "crdt merge", want, got, calerr.ErrInvalidAction)
}
