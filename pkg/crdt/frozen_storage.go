package crdt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/calimero-network/core/pkg/hlc"
)

// FrozenStorage is content-addressed, write-once storage: the key is the
// SHA-256 of the value, so insert is naturally idempotent and merge is
// just a set union — there is no concurrent-write conflict to resolve
// because two replicas that insert the same bytes derive the same key.
type FrozenStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte // hex digest -> content
}

// NewFrozenStorage creates an empty FrozenStorage.
func NewFrozenStorage() *FrozenStorage {
	return &FrozenStorage{blobs: make(map[string][]byte)}
}

// Type implements CRDT.
func (f *FrozenStorage) Type() Type { return TypeFrozenStorage }

// Digest returns the content address for value without storing it.
func Digest(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}

// Insert stores value under its content digest, returning the digest and
// the Action (idempotent: re-inserting identical bytes is a no-op that
// still returns a valid Action for logging purposes).
func (f *FrozenStorage) Insert(entityID string, value []byte, ts hlc.Timestamp) (string, Action) {
	digest := Digest(value)
	f.mu.Lock()
	if _, exists := f.blobs[digest]; !exists {
		f.blobs[digest] = value
	}
	f.mu.Unlock()

	payload, _ := json.Marshal(struct {
		Digest string `json:"digest"`
		Value  []byte `json:"value"`
	}{digest, value})
	return digest, Action{
		EntityID: entityID,
		Kind:     "frozen_insert",
		Payload:  payload,
		Metadata: Metadata{CreatedAt: ts, UpdatedAt: ts, CRDTType: TypeFrozenStorage},
	}
}

// Get retrieves the content for digest.
func (f *FrozenStorage) Get(digest string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.blobs[digest]
	return v, ok
}

// Digests returns every stored digest, sorted.
func (f *FrozenStorage) Digests() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.blobs))
	for d := range f.blobs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Merge unions the blob sets.
func (f *FrozenStorage) Merge(other CRDT) error {
	o, ok := other.(*FrozenStorage)
	if !ok {
		return typeMismatch(TypeFrozenStorage, other)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o.mu.RLock()
	defer o.mu.RUnlock()
	for digest, value := range o.blobs {
		if _, exists := f.blobs[digest]; !exists {
			f.blobs[digest] = value
		}
	}
	return nil
}

// Marshal implements CRDT.
func (f *FrozenStorage) Marshal() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return json.Marshal(f.blobs)
}

// Unmarshal implements CRDT.
func (f *FrozenStorage) Unmarshal(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return json.Unmarshal(data, &f.blobs)
}
