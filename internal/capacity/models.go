package capacity

import (
	"errors"
	"time"

	"dialer-platform/internal/queue"
)

// Lease represents one call currently in flight. Its presence is the
// sole source of truth for concurrency accounting: a call counts
// against tenant and system limits iff its lease exists.
//
// Leases are created and deleted only by the Gatekeeper.

type Lease struct {
	// CallID is the lease identity, 1:1 with the dispatched call.
	CallID      string `json:"call_id" db:"call_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	CallType queue.CallType `json:"call_type" db:"call_type"`

	// QueueItemID links back to the processing queue item so the
	// reconciliation sweep can resolve abandoned items.
	QueueItemID string `json:"queue_item_id" db:"queue_item_id"`

	// ProviderCallID is the provider-side execution id, attached once
	// the provider accepts the call.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	StartedAt time.Time `json:"started_at" db:"started_at"`
}

// TenantConcurrencyConfig is the per-tenant concurrency ceiling.
// The system-wide ceiling is process configuration, not per-tenant data.
type TenantConcurrencyConfig struct {
	WorkspaceID          string    `json:"workspace_id" db:"workspace_id"`
	ConcurrentCallsLimit int       `json:"concurrent_calls_limit" db:"concurrent_calls_limit"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// TenantSnapshot is the per-tenant observability view.
type TenantSnapshot struct {
	WorkspaceID    string `json:"workspace_id"`
	ActiveCalls    int    `json:"active_calls"`
	DirectActive   int    `json:"direct_active"`
	CampaignActive int    `json:"campaign_active"`
	Limit          int    `json:"limit"`
	AvailableSlots int    `json:"available_slots"`
}

// SystemSnapshot is the system-wide observability view.
type SystemSnapshot struct {
	TotalActive           int `json:"total_active"`
	DirectActive          int `json:"direct_active"`
	CampaignActive        int `json:"campaign_active"`
	TenantsWithActiveCall int `json:"tenants_with_active_calls"`
	SystemLimit           int `json:"system_limit"`
}

var (
	ErrNotFound        = errors.New("capacity: not found")
	ErrInvalidArgument = errors.New("capacity: invalid argument")
)
