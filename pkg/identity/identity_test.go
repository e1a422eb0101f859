package identity_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/pkg/identity"
)

func TestGenerate_ProducesValidKeypair(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)
	assert.Len(t, kp.PublicKey, 32)
	assert.Len(t, kp.PrivateKey, 64)
}

func TestSignVerify_RoundTrips(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)

	data := []byte("delta payload digest")
	sig, err := identity.Sign(kp.PrivateKey, data)
	require.NoError(t, err)
	assert.True(t, identity.Verify(kp.PublicKey, data, sig))
}

func TestVerify_RejectsTamperedData(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)

	sig, err := identity.Sign(kp.PrivateKey, []byte("original"))
	require.NoError(t, err)
	assert.False(t, identity.Verify(kp.PublicKey, []byte("tampered"), sig))
}

func TestVerify_RejectsWrongSizedKeyOrSignature(t *testing.T) {
	assert.False(t, identity.Verify([]byte("too short"), []byte("data"), []byte("sig")))
}

func TestNewIdentity_StartsAtEpochZero(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)

	ctxID := uuid.New()
	id := identity.NewIdentity(ctxID, kp.PublicKey)
	assert.Equal(t, ctxID, id.ContextID)
	assert.Equal(t, uint64(0), id.SenderKeyEpoch)
	assert.NotEqual(t, uuid.Nil, id.ID)
}

func TestRotate_IncrementsEpochAndReplacesSecret(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)

	id := identity.NewIdentity(uuid.New(), kp.PublicKey)
	id.Rotate([]byte("secret-v1"))
	assert.Equal(t, uint64(1), id.SenderKeyEpoch)
	assert.Equal(t, []byte("secret-v1"), id.SenderKeySecret)

	id.Rotate([]byte("secret-v2"))
	assert.Equal(t, uint64(2), id.SenderKeyEpoch)
	assert.Equal(t, []byte("secret-v2"), id.SenderKeySecret)
}
