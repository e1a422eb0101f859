package applier_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/applier"
	"github.com/calimero-network/core/internal/crypto"
	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/storage"
	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/crdt"
	"github.com/calimero-network/core/pkg/hlc"
)

// stubExecutor stands in for the host's WASM sandbox: it applies
// lww_set actions directly to a CRDTStore and reports the resulting
// root hash, exercising the full Envelope/Outcome contract end to end.
type stubExecutor struct {
	store        *storage.CRDTStore
	rootEntityID string
	unavailable  bool
}

func (e *stubExecutor) Execute(ctx context.Context, contextID, method string, envelopeBytes []byte) ([]byte, error) {
	if e.unavailable {
		return nil, calerr.Wrap(calerr.ErrApplicationNotAvailable, "blob not downloaded")
	}
	var env applier.Envelope
	if err := json.Unmarshal(envelopeBytes, &env); err != nil {
		return nil, err
	}

	for _, action := range env.Actions {
		reg := crdt.NewLwwRegister("executor")
		if existing, err := e.store.GetEntity(ctx, action.EntityID); err == nil && len(existing) > 0 {
			_ = reg.Unmarshal(existing)
		}
		reg.Set(action.EntityID, action.Payload, action.Metadata.UpdatedAt)
		state, err := reg.Marshal()
		if err != nil {
			return nil, err
		}
		if err := e.store.PutEntity(ctx, action.EntityID, state, nil); err != nil {
			return nil, err
		}
	}

	root := e.store.RootHash(e.rootEntityID)
	out, err := json.Marshal(applier.Outcome{RootHash: root})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *stubExecutor) HasBlob(ctx context.Context, digest string) (bool, error) {
	return !e.unavailable, nil
}

type staticKeys struct {
	secret []byte
	epoch  uint64
}

func (k staticKeys) SenderKey(ctx context.Context, contextID, authorID string) ([]byte, uint64, error) {
	return k.secret, k.epoch, nil
}

func newTestStore(t *testing.T) *storage.CRDTStore {
	t.Helper()
	base, err := storage.NewBadgerStore(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })

	cs, err := storage.NewCRDTStore(context.Background(), base, "ctx-1", 16, 256)
	require.NoError(t, err)
	return cs
}

func sealDelta(t *testing.T, secret []byte, epoch uint64, deltaID [32]byte, actions []crdt.Action) []byte {
	t.Helper()
	plaintext, err := json.Marshal(actions)
	require.NoError(t, err)
	sealed, err := crypto.Seal(secret, epoch, fmtDeltaID(deltaID), plaintext)
	require.NoError(t, err)
	return sealed
}

func fmtDeltaID(id [32]byte) string {
	return fmt.Sprintf("%x", id)
}

func TestApplier_Apply_AppliesActionAndReturnsRootHash(t *testing.T) {
	store := newTestStore(t)
	secret := []byte("a 32+ byte sender key secret!!!!")
	exec := &stubExecutor{store: store, rootEntityID: "root"}
	a := applier.New(exec, staticKeys{secret: secret, epoch: 1}, store, "root")

	actions := []crdt.Action{{
		EntityID: "entity-1",
		Kind:     "lww_set",
		Payload:  []byte("hello"),
		Metadata: crdt.Metadata{UpdatedAt: hlc.Timestamp{}, CRDTType: crdt.TypeLWWRegister},
	}}

	var deltaID [32]byte
	deltaID[0] = 1
	sealed := sealDelta(t, secret, 1, deltaID, actions)

	d := dag.Delta{ID: deltaID, AuthorID: "author-1", EncryptedPayload: sealed}
	_, _, err := a.Apply(context.Background(), "ctx-1", d, false)
	require.NoError(t, err)

	stored, err := store.GetEntity(context.Background(), "entity-1")
	require.NoError(t, err)
	reg := crdt.NewLwwRegister("")
	require.NoError(t, reg.Unmarshal(stored))
	assert.Equal(t, []byte("hello"), reg.Get())
}

func TestApplier_Apply_WrongSenderKeyFailsDecrypt(t *testing.T) {
	store := newTestStore(t)
	secret := []byte("a 32+ byte sender key secret!!!!")
	wrongSecret := []byte("a completely different secret!!")
	exec := &stubExecutor{store: store, rootEntityID: "root"}
	a := applier.New(exec, staticKeys{secret: wrongSecret, epoch: 1}, store, "root")

	var deltaID [32]byte
	deltaID[0] = 2
	sealed := sealDelta(t, secret, 1, deltaID, []crdt.Action{{EntityID: "e", Kind: "lww_set"}})

	d := dag.Delta{ID: deltaID, AuthorID: "author-1", EncryptedPayload: sealed}
	_, _, err := a.Apply(context.Background(), "ctx-1", d, false)
	assert.Error(t, err)
}

func TestApplier_Apply_ApplicationNotAvailableIsRetriable(t *testing.T) {
	store := newTestStore(t)
	secret := []byte("a 32+ byte sender key secret!!!!")
	exec := &stubExecutor{store: store, rootEntityID: "root", unavailable: true}
	a := applier.New(exec, staticKeys{secret: secret, epoch: 1}, store, "root")

	var deltaID [32]byte
	deltaID[0] = 3
	sealed := sealDelta(t, secret, 1, deltaID, []crdt.Action{{EntityID: "e", Kind: "lww_set"}})

	d := dag.Delta{ID: deltaID, AuthorID: "author-1", EncryptedPayload: sealed}
	_, _, err := a.Apply(context.Background(), "ctx-1", d, false)
	require.Error(t, err)
	assert.True(t, calerr.Retriable(err))
}
