package capacity

import (
	"context"
	"log/slog"
	"time"

	"dialer-platform/internal/queue"
	"dialer-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Gatekeeper grants and releases dispatch slots. Acquisition succeeds
// iff the tenant's active-lease count is below its limit AND the
// system-wide count is below the system limit, checked and recorded as
// one atomic unit by the lease store.
//
// Only the Gatekeeper creates or deletes leases.
type Gatekeeper struct {
	leases LeaseStore
	limits LimitStore

	systemLimit        int
	defaultTenantLimit int

	clock func() time.Time
	log   *slog.Logger

	// capAcquire/capRelease, when set, maintain a cross-instance
	// system-wide cap on top of the lease store's check. Best-effort:
	// the lease store remains authoritative.
	capAcquire func(ctx context.Context) (bool, error)
	capRelease func(ctx context.Context) error

	// onRelease wakes the dispatch loop when capacity frees. Optional.
	onRelease func()
}

type GatekeeperConfig struct {
	SystemLimit        int
	DefaultTenantLimit int

	// Redis cap (optional).
	Redis  *redis.Client
	CapKey string
	CapTTL time.Duration
}

func NewGatekeeper(leases LeaseStore, limits LimitStore, cfg GatekeeperConfig, log *slog.Logger) *Gatekeeper {
	if log == nil {
		log = slog.Default()
	}
	capKey := cfg.CapKey
	if capKey == "" {
		capKey = "dispatch:system_active"
	}
	capTTL := cfg.CapTTL
	if capTTL <= 0 {
		capTTL = time.Hour
	}
	g := &Gatekeeper{
		leases:             leases,
		limits:             limits,
		systemLimit:        cfg.SystemLimit,
		defaultTenantLimit: cfg.DefaultTenantLimit,
		clock:              time.Now,
		log:                log,
	}
	if cfg.Redis != nil {
		g.capAcquire = func(ctx context.Context) (bool, error) {
			return utils.AcquireConcurrencyCap(ctx, cfg.Redis, capKey, cfg.SystemLimit, capTTL)
		}
		g.capRelease = func(ctx context.Context) error {
			return utils.ReleaseConcurrencyCap(ctx, cfg.Redis, capKey)
		}
	}
	return g
}

// OnRelease registers a hook invoked whenever a lease is actually
// released.
func (g *Gatekeeper) OnRelease(fn func()) { g.onRelease = fn }

// TenantLimit resolves the effective concurrency limit for a tenant.
func (g *Gatekeeper) TenantLimit(ctx context.Context, workspaceID string) (int, error) {
	limit, ok, err := g.limits.GetLimit(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	if !ok || limit < 1 {
		return g.defaultTenantLimit, nil
	}
	return limit, nil
}

// SetTenantLimit updates a tenant's concurrency ceiling. It does not
// evict in-flight calls; the new limit applies to future acquisitions.
func (g *Gatekeeper) SetTenantLimit(ctx context.Context, workspaceID string, limit int) error {
	if workspaceID == "" || limit < 1 {
		return ErrInvalidArgument
	}
	return g.limits.SetLimit(ctx, workspaceID, limit, g.clock().UTC())
}

// TryAcquire attempts to take a dispatch slot for a call. A false
// return is capacity denial, not an error: the caller leaves the item
// queued and retries when capacity frees.
func (g *Gatekeeper) TryAcquire(ctx context.Context, workspaceID string, callType queue.CallType, callID, queueItemID string) (Lease, bool, error) {
	if workspaceID == "" || callID == "" {
		return Lease{}, false, ErrInvalidArgument
	}
	tenantLimit, err := g.TenantLimit(ctx, workspaceID)
	if err != nil {
		return Lease{}, false, err
	}

	// capHeld tracks whether this acquisition incremented the shared
	// counter; a decrement without a matching increment would undercount
	// the cap for every other instance.
	capHeld := false
	if g.capAcquire != nil {
		ok, err := g.capAcquire(ctx)
		switch {
		case err != nil:
			// Redis trouble must not stall dispatching; the lease store
			// still enforces the limit.
			g.log.Warn("redis concurrency cap acquire failed", "err", err)
		case !ok:
			return Lease{}, false, nil
		default:
			capHeld = true
		}
	}

	lease := Lease{
		CallID:      callID,
		WorkspaceID: workspaceID,
		CallType:    callType,
		QueueItemID: queueItemID,
		StartedAt:   g.clock().UTC(),
	}
	ok, err := g.leases.TryInsert(ctx, lease, tenantLimit, g.systemLimit)
	if err != nil || !ok {
		if capHeld {
			g.releaseCap(ctx)
		}
		return Lease{}, false, err
	}
	return lease, true, nil
}

// AttachProvider records the provider execution id on a live lease.
func (g *Gatekeeper) AttachProvider(ctx context.Context, callID, providerCallID string) error {
	return g.leases.AttachProvider(ctx, callID, providerCallID)
}

// Release frees the slot held by a call. It is idempotent: the first
// call for a given lease returns true, every later one false. The
// terminal outcome of the underlying call is the only legitimate
// trigger (plus the reconciliation sweep).
func (g *Gatekeeper) Release(ctx context.Context, callID string) (Lease, bool, error) {
	lease, deleted, err := g.leases.Delete(ctx, callID)
	if err != nil {
		return Lease{}, false, err
	}
	if !deleted {
		return Lease{}, false, nil
	}
	g.releaseCap(ctx)
	if g.onRelease != nil {
		g.onRelease()
	}
	return lease, true, nil
}

func (g *Gatekeeper) releaseCap(ctx context.Context) {
	if g.capRelease == nil {
		return
	}
	if err := g.capRelease(ctx); err != nil {
		g.log.Warn("redis concurrency cap release failed", "err", err)
	}
}

// TenantSnapshot returns the per-tenant observability view.
func (g *Gatekeeper) TenantSnapshot(ctx context.Context, workspaceID string) (TenantSnapshot, error) {
	snap, err := g.leases.TenantSnapshot(ctx, workspaceID)
	if err != nil {
		return TenantSnapshot{}, err
	}
	limit, err := g.TenantLimit(ctx, workspaceID)
	if err != nil {
		return TenantSnapshot{}, err
	}
	snap.Limit = limit
	snap.AvailableSlots = limit - snap.ActiveCalls
	if snap.AvailableSlots < 0 {
		snap.AvailableSlots = 0
	}
	return snap, nil
}

// SystemSnapshot returns the system-wide observability view.
func (g *Gatekeeper) SystemSnapshot(ctx context.Context) (SystemSnapshot, error) {
	snap, err := g.leases.SystemSnapshot(ctx)
	if err != nil {
		return SystemSnapshot{}, err
	}
	snap.SystemLimit = g.systemLimit
	return snap, nil
}
