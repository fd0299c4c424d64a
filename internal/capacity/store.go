package capacity

import (
	"context"
	"time"
)

// LeaseStore is the persistence contract for active-call leases.
//
// TryInsert is the gatekeeper's atomic unit: both counts are read and
// the lease inserted under one lock/transaction so two concurrent
// acquisitions cannot both observe spare capacity and both succeed.
type LeaseStore interface {
	// TryInsert inserts the lease iff the tenant's active count is below
	// tenantLimit and the total active count is below systemLimit.
	TryInsert(ctx context.Context, lease Lease, tenantLimit, systemLimit int) (bool, error)

	// Delete removes a lease. It returns the removed lease and false
	// when the lease was already gone, making release idempotent.
	Delete(ctx context.Context, callID string) (Lease, bool, error)

	// AttachProvider records the provider-side execution id.
	AttachProvider(ctx context.Context, callID, providerCallID string) error

	// ListOlderThan returns leases whose StartedAt precedes cutoff.
	// Used only by the reconciliation sweep.
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]Lease, error)

	TenantSnapshot(ctx context.Context, workspaceID string) (TenantSnapshot, error)
	SystemSnapshot(ctx context.Context) (SystemSnapshot, error)
}

// LimitStore resolves per-tenant concurrency limits.
type LimitStore interface {
	// GetLimit returns the tenant's configured limit; ok=false when the
	// tenant has no explicit configuration.
	GetLimit(ctx context.Context, workspaceID string) (int, bool, error)
	SetLimit(ctx context.Context, workspaceID string, limit int, now time.Time) error
}
