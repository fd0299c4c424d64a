package capacity

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is the dead-letter safety net for missed outcome callbacks:
// it force-releases leases that have been in flight far longer than any
// plausible call duration, so a lost provider event cannot leak
// capacity forever.
//
// This path is best-effort cleanup, not correctness-critical; every
// reclaimed lease is logged.
type Sweeper struct {
	leases     LeaseStore
	gatekeeper *Gatekeeper

	maxAge time.Duration
	clock  func() time.Time
	log    *slog.Logger

	// onReclaim lets the outcome side resolve the abandoned queue item.
	onReclaim func(ctx context.Context, lease Lease)
}

func NewSweeper(leases LeaseStore, gk *Gatekeeper, maxAge time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		leases:     leases,
		gatekeeper: gk,
		maxAge:     maxAge,
		clock:      time.Now,
		log:        log,
	}
}

// OnReclaim registers a hook invoked for every reclaimed lease.
func (s *Sweeper) OnReclaim(fn func(ctx context.Context, lease Lease)) { s.onReclaim = fn }

// Sweep releases every lease older than the configured maximum age and
// returns how many were reclaimed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock().UTC().Add(-s.maxAge)
	stale, err := s.leases.ListOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, lease := range stale {
		released, ok, err := s.gatekeeper.Release(ctx, lease.CallID)
		if err != nil {
			s.log.Error("reconciliation release failed", "call_id", lease.CallID, "err", err)
			continue
		}
		if !ok {
			// Outcome arrived between listing and release.
			continue
		}
		reclaimed++
		s.log.Warn("reclaimed stale call lease",
			"call_id", released.CallID,
			"workspace_id", released.WorkspaceID,
			"call_type", released.CallType,
			"started_at", released.StartedAt,
		)
		if s.onReclaim != nil {
			s.onReclaim(ctx, released)
		}
	}
	return reclaimed, nil
}
