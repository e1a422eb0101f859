// Package crypto seals and opens causal delta payloads. Each context
// member's sender key is expanded via HKDF into a fresh symmetric key
// per delta, sealed with ChaCha20-Poly1305, generalizing the teacher's
// RSA+AES-GCM hybrid encryption in internal/security to the
// Ed25519/HKDF-keyed scheme spec.md's data model calls for.
package crypto

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DeriveDeltaKey expands senderKeySecret into a per-delta symmetric key
// using HKDF-SHA256 with no salt and the sender-key epoch followed by
// deltaID as the info input, so key rotation
// (pkg/identity.Identity.Rotate) invalidates every previously derived
// key without re-keying storage.
func DeriveDeltaKey(senderKeySecret []byte, epoch uint64, deltaID string) ([]byte, error) {
	var epochBuf [8]byte
	binary.BigEndian.PutUint64(epochBuf[:], epoch)

	info := append(epochBuf[:], []byte(deltaID)...)
	reader := hkdf.New(sha256.New, senderKeySecret, nil, info)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive delta key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under the per-delta key derived from
// senderKeySecret/epoch/deltaID, returning nonce||ciphertext.
func Seal(senderKeySecret []byte, epoch uint64, deltaID string, plaintext []byte) ([]byte, error) {
	key, err := DeriveDeltaKey(senderKeySecret, epoch, deltaID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("build aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := cryptorand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, []byte(deltaID))
	return append(nonce, sealed...), nil
}

// Open decrypts a payload produced by Seal.
func Open(senderKeySecret []byte, epoch uint64, deltaID string, sealed []byte) ([]byte, error) {
	key, err := DeriveDeltaKey(senderKeySecret, epoch, deltaID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("build aead: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed payload too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(deltaID))
	if err != nil {
		return nil, fmt.Errorf("open sealed payload: %w", err)
	}
	return plaintext, nil
}
