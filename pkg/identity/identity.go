// Package identity provides the Ed25519 keypairs, signatures, and sender
// keys that authenticate contexts, deltas, and the sync key-share
// handshake.
package identity

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// PublicKey and PrivateKey are the raw Ed25519 key material used
// throughout the data model for context/identity/delta signing.
type PublicKey = ed25519.PublicKey
type PrivateKey = ed25519.PrivateKey

// KeyPair is a generated Ed25519 identity keypair.
type KeyPair struct {
	PublicKey  PublicKey
	PrivateKey PrivateKey
}

// Generate creates a new Ed25519 keypair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// Sign produces an Ed25519 signature over data.
func Sign(priv PrivateKey, data []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: expected %d, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return ed25519.Sign(priv, data), nil
}

// Verify checks an Ed25519 signature over data.
func Verify(pub PublicKey, data, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, signature)
}

// Identity is a node's membership record within a context: its public
// key plus the current sender-key epoch used to derive delta payload
// encryption keys (see internal/crypto).
type Identity struct {
	ID              uuid.UUID
	ContextID       uuid.UUID
	PublicKey       PublicKey
	SenderKeyEpoch  uint64
	SenderKeySecret []byte // local-only; never serialized to peers
}

// NewIdentity mints an Identity for a freshly generated keypair.
func NewIdentity(contextID uuid.UUID, pub PublicKey) Identity {
	return Identity{
		ID:        uuid.New(),
		ContextID: contextID,
		PublicKey: pub,
	}
}

// Rotate advances the sender-key epoch and replaces the secret. It does
// not touch key-share handshakes, which never read the epoch. Mirrors the
// sequence-numbered rotation bookkeeping used for key rotation elsewhere
// in the stack: a rotation is only ever a strictly-increasing counter,
// never reused.
func (id *Identity) Rotate(newSecret []byte) {
	id.SenderKeyEpoch++
	id.SenderKeySecret = newSecret
}
