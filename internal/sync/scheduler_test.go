package sync_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/calimero-network/core/internal/sync"
	"github.com/calimero-network/core/pkg/config"
)

func TestScheduler_FiresReconcileAndStopsOnCancel(t *testing.T) {
	var calls int32
	cfg := config.SyncConfig{ProactiveInterval: 10 * time.Millisecond, ProactiveJitterPct: 0.5}
	s := sync.NewScheduler(cfg, []string{"ctx-1"}, func(ctx context.Context, contextID string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestChooseRandomMember_ExcludesSelf(t *testing.T) {
	members := []string{"self", "a", "b"}
	for i := 0; i < 20; i++ {
		chosen, ok := sync.ChooseRandomMember(members, "self")
		assert.True(t, ok)
		assert.NotEqual(t, "self", chosen)
	}
}

func TestChooseRandomMember_NoneLeft(t *testing.T) {
	_, ok := sync.ChooseRandomMember([]string{"self"}, "self")
	assert.False(t, ok)
}
