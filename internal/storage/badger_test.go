package storage_test

import (
	"context"
	"testing"

	"github.com/calimero-network/core/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore_ColumnRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetColumn(ctx, storage.ColumnEntityState, "ctx-1", []byte("v1"), "entity-a"))
	val, ok, err := s.GetColumn(ctx, storage.ColumnEntityState, "ctx-1", "entity-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), val)
}

func TestBadgerStore_GetColumn_MissingKeyReportsNotOkWithoutError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	val, ok, err := s.GetColumn(ctx, storage.ColumnEntityState, "ctx-1", "nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, val)
}

func TestBadgerStore_DeleteColumn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetColumn(ctx, storage.ColumnGeneric, "ctx-1", []byte("x"), "k"))
	require.NoError(t, s.DeleteColumn(ctx, storage.ColumnGeneric, "ctx-1", "k"))

	_, ok, err := s.GetColumn(ctx, storage.ColumnGeneric, "ctx-1", "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBadgerStore_IterateColumn_ScopesToColumnAndContextAndStripsPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetColumn(ctx, storage.ColumnEntityState, "ctx-1", []byte("a1"), "a"))
	require.NoError(t, s.SetColumn(ctx, storage.ColumnEntityState, "ctx-1", []byte("b1"), "b"))
	// A different context and a different column must not leak into the scan.
	require.NoError(t, s.SetColumn(ctx, storage.ColumnEntityState, "ctx-2", []byte("other-ctx"), "a"))
	require.NoError(t, s.SetColumn(ctx, storage.ColumnEntityIndex, "ctx-1", []byte("other-col"), "a"))

	got := map[string]string{}
	err := s.IterateColumn(ctx, storage.ColumnEntityState, "ctx-1", func(rest string, value []byte) error {
		got[rest] = string(value)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "a1", "b": "b1"}, got)
}
