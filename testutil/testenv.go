// Package testutil provides a shared test harness for standing up a
// BadgerDB-backed storage layer and its dependent components, the way
// the teacher's integration tests wire a temp-dir BadgerStore.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/storage"
	"github.com/calimero-network/core/pkg/config"
)

// TestEnvironment manages a temp-dir BadgerStore and the config it was
// built from, for integration tests that need real persistence.
type TestEnvironment struct {
	T       *testing.T
	TempDir string
	Config  *config.Config
	Store   storage.Store
}

// NewTestEnvironment creates a temp directory, a default Config pointed
// at it, and a BadgerStore over that path.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "calimero-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Node.DataDir = tempDir

	db, err := storage.NewBadgerStore(tempDir + "/data")
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create BadgerDB store: %v", err)
	}

	return &TestEnvironment{
		T:       t,
		TempDir: tempDir,
		Config:  cfg,
		Store:   db,
	}
}

// Close releases the store and removes the temp directory.
func (env *TestEnvironment) Close() {
	env.T.Helper()

	if env.Store != nil {
		if err := env.Store.Close(); err != nil {
			env.T.Logf("error closing store: %v", err)
		}
	}
	if env.TempDir != "" {
		if err := os.RemoveAll(env.TempDir); err != nil {
			env.T.Logf("error removing temp dir: %v", err)
		}
	}
}

// WithCRDTStore builds a CRDTStore over env.Store for contextID, using
// the environment's Merkle config for branching/chunk size.
func (env *TestEnvironment) WithCRDTStore(ctx context.Context, contextID string) *storage.CRDTStore {
	env.T.Helper()

	cs, err := storage.NewCRDTStore(ctx, env.Store, contextID, env.Config.Merkle.Branching, env.Config.Merkle.ChunkSize)
	if err != nil {
		env.T.Fatalf("failed to create CRDTStore: %v", err)
	}
	return cs
}

// WithDagStore builds a DAG store for contextID over applier.
func (env *TestEnvironment) WithDagStore(contextID string, applier dag.Applier) *dag.Store {
	env.T.Helper()
	return dag.New(contextID, applier)
}

// MustSet sets a key-value pair in the store, failing the test on error.
func (env *TestEnvironment) MustSet(ctx context.Context, key, value []byte) {
	env.T.Helper()
	if err := env.Store.Set(ctx, key, value); err != nil {
		env.T.Fatalf("failed to set key %q: %v", key, err)
	}
}

// MustGet gets a value from the store, failing the test on error.
func (env *TestEnvironment) MustGet(ctx context.Context, key []byte) []byte {
	env.T.Helper()
	value, err := env.Store.Get(ctx, key)
	if err != nil {
		env.T.Fatalf("failed to get key %q: %v", key, err)
	}
	return value
}

// MustNotExist verifies that a key does not exist in the store.
func (env *TestEnvironment) MustNotExist(ctx context.Context, key []byte) {
	env.T.Helper()
	has, err := env.Store.Has(ctx, key)
	if err != nil {
		env.T.Fatalf("failed to check key %q: %v", key, err)
	}
	if has {
		env.T.Fatalf("key %q exists but should not", key)
	}
}
