package crypto_test

import (
	"testing"

	"github.com/calimero-network/core/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	secret := []byte("a 32+ byte sender key secret!!!!")
	plaintext := []byte("delta payload bytes")

	sealed, err := crypto.Seal(secret, 1, "delta-1", plaintext)
	require.NoError(t, err)

	opened, err := crypto.Open(secret, 1, "delta-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenFailsAfterRotation(t *testing.T) {
	secret := []byte("a 32+ byte sender key secret!!!!")
	sealed, err := crypto.Seal(secret, 1, "delta-1", []byte("data"))
	require.NoError(t, err)

	_, err = crypto.Open(secret, 2, "delta-1", sealed)
	assert.Error(t, err, "a new epoch must derive a different key and fail to open")
}

func TestOpenFailsForWrongDeltaID(t *testing.T) {
	secret := []byte("a 32+ byte sender key secret!!!!")
	sealed, err := crypto.Seal(secret, 1, "delta-1", []byte("data"))
	require.NoError(t, err)

	_, err = crypto.Open(secret, 1, "delta-2", sealed)
	assert.Error(t, err)
}
