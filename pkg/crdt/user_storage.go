package crdt

import "github.com/calimero-network/core/pkg/hlc"

// UserStorage namespaces an UnorderedMap by identity, giving each
// context member an isolated per-identity key space (e.g. per-user
// preferences) while reusing the map's per-key LWW merge untouched: keys
// are simply prefixed with the owning identity, so merge never crosses
// identity boundaries.
type UserStorage struct {
	inner *UnorderedMap
}

// NewUserStorage creates a UserStorage owned by nodeID.
func NewUserStorage(nodeID string) *UserStorage {
	return &UserStorage{inner: NewUnorderedMap(nodeID)}
}

// Type implements CRDT.
func (u *UserStorage) Type() Type { return TypeUserStorage }

func namespacedKey(identityID, key string) string { return identityID + "\x00" + key }

// Put writes key under identityID's namespace.
func (u *UserStorage) Put(entityID, identityID, key string, value []byte, ts hlc.Timestamp) Action {
	act := u.inner.Put(entityID, namespacedKey(identityID, key), value, ts)
	act.Metadata.CRDTType = TypeUserStorage
	return act
}

// Delete tombstones key under identityID's namespace.
func (u *UserStorage) Delete(entityID, identityID, key string, ts hlc.Timestamp) Action {
	act := u.inner.Delete(entityID, namespacedKey(identityID, key), ts)
	act.Metadata.CRDTType = TypeUserStorage
	return act
}

// Get reads key from identityID's namespace.
func (u *UserStorage) Get(identityID, key string) ([]byte, bool) {
	return u.inner.Get(namespacedKey(identityID, key))
}

// Merge delegates to the underlying per-key LWW map merge.
func (u *UserStorage) Merge(other CRDT) error {
	o, ok := other.(*UserStorage)
	if !ok {
		return typeMismatch(TypeUserStorage, other)
	}
	return u.inner.Merge(o.inner)
}

// Marshal implements CRDT.
func (u *UserStorage) Marshal() ([]byte, error) { return u.inner.Marshal() }

// Unmarshal implements CRDT.
func (u *UserStorage) Unmarshal(data []byte) error { return u.inner.Unmarshal(data) }
