package sync_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/sync"
	"github.com/calimero-network/core/pkg/config"
)

func TestHandleAnnounce_FetchesAncestorChainAcrossGap(t *testing.T) {
	ctx := context.Background()
	cfg := config.SyncConfig{BloomFPRate: 0.01}

	sourceStore := dag.New("ctx-1", noopApplier{})
	_, _, err := sourceStore.AddDelta(ctx, dag.Delta{ID: idFor(1)})
	require.NoError(t, err)
	_, _, err = sourceStore.AddDelta(ctx, dag.Delta{ID: idFor(2), Parents: []dag.DeltaID{idFor(1)}})
	require.NoError(t, err)
	_, _, err = sourceStore.AddDelta(ctx, dag.Delta{ID: idFor(3), Parents: []dag.DeltaID{idFor(2)}})
	require.NoError(t, err)

	// Receiver has none of these yet; it only learns about delta 3 via
	// announce and must walk back through 2 and 1.
	receiverStore := dag.New("ctx-1", noopApplier{})

	source := sync.New("ctx-1", "root", sourceStore, nil, nil, cfg)
	receiver := sync.New("ctx-1", "root", receiverStore, nil, nil, cfg)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	head, _ := sourceStore.GetDelta(idFor(3))
	announce := sync.BuildAnnounce(head)

	errCh := make(chan error, 1)
	go func() {
		for i := 0; i < 2; i++ {
			if err := source.RespondAncestorRequest(serverConn); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()

	require.NoError(t, receiver.HandleAnnounce(ctx, clientConn, announce))
	require.NoError(t, <-errCh)

	assert.True(t, receiverStore.IsApplied(idFor(1)))
	assert.True(t, receiverStore.IsApplied(idFor(2)))
	assert.True(t, receiverStore.IsApplied(idFor(3)))
}

func TestHandleAnnounce_AlreadyKnownIsNoop(t *testing.T) {
	ctx := context.Background()
	store := dag.New("ctx-1", noopApplier{})
	_, _, err := store.AddDelta(ctx, dag.Delta{ID: idFor(1)})
	require.NoError(t, err)

	cfg := config.SyncConfig{BloomFPRate: 0.01}
	e := sync.New("ctx-1", "root", store, nil, nil, cfg)
	d, _ := store.GetDelta(idFor(1))

	require.NoError(t, e.HandleAnnounce(ctx, nil, sync.BuildAnnounce(d)))
}
