package sync

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/calimero-network/core/internal/logging"
	"github.com/calimero-network/core/pkg/config"
)

// Scheduler runs proactive reconciliation for a set of contexts on a
// jittered periodic interval (spec.md §4.5.6 "periodic interval per
// context against a randomly chosen member"; the jitter itself is a
// supplemented feature absent from the distilled spec but present in
// the original implementation's scheduling loop — see SPEC_FULL.md §10)
// so that many nodes started at the same wall-clock instant don't all
// reconcile in lockstep.
type Scheduler struct {
	cfg       config.SyncConfig
	reconcile func(ctx context.Context, contextID string) error
	contexts  []string
}

// NewScheduler builds a Scheduler that calls reconcile for each of
// contexts on its own jittered ticker.
func NewScheduler(cfg config.SyncConfig, contexts []string, reconcile func(ctx context.Context, contextID string) error) *Scheduler {
	return &Scheduler{cfg: cfg, reconcile: reconcile, contexts: contexts}
}

// Run blocks, firing reconcile for every context on its jittered
// interval, until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	for _, contextID := range s.contexts {
		go s.runOne(ctx, contextID)
	}
	<-ctx.Done()
}

func (s *Scheduler) runOne(ctx context.Context, contextID string) {
	for {
		wait, err := jitteredInterval(s.cfg.ProactiveInterval, s.cfg.ProactiveJitterPct)
		if err != nil {
			wait = s.cfg.ProactiveInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.reconcile(ctx, contextID); err != nil {
			logging.From(ctx).Debugw("proactive sync failed, will retry next interval",
				"context_id", contextID, "error", err)
		}
	}
}

// jitteredInterval returns base scaled by a uniformly random factor in
// [1-jitterPct, 1+jitterPct], using crypto/rand since this package
// avoids math/rand's global seeding concerns in long-running servers.
func jitteredInterval(base time.Duration, jitterPct float64) (time.Duration, error) {
	if jitterPct <= 0 {
		return base, nil
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate jitter: %w", err)
	}
	// Map the random 64 bits to [0, 1) then to [-jitterPct, +jitterPct].
	frac := float64(binary.BigEndian.Uint64(buf[:])>>11) / float64(1<<53)
	factor := 1 + (frac*2-1)*jitterPct
	return time.Duration(float64(base) * factor), nil
}

// ChooseRandomMember picks a peer uniformly at random from members,
// excluding self, for proactive sync's "randomly chosen member" target.
func ChooseRandomMember(members []string, self string) (string, bool) {
	candidates := make([]string, 0, len(members))
	for _, m := range members {
		if m != self {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return candidates[0], true
	}
	idx := binary.BigEndian.Uint64(buf[:]) % uint64(len(candidates))
	return candidates[idx], true
}
