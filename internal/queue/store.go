package queue

import (
	"context"
	"time"
)

// Store is the persistence contract for queue items.
//
// Claim is the single dispatch-ownership gate of the whole scheduler:
// it must perform the queued→processing transition as an atomic
// check-and-set so that two workers racing on the same item cannot both
// win. Everything else may be eventually consistent.
type Store interface {
	// Enqueue persists a new item and assigns its FIFO position.
	Enqueue(ctx context.Context, item QueueItem) (QueueItem, error)

	Get(ctx context.Context, workspaceID, itemID string) (QueueItem, error)

	// ListEligible returns up to limit queued items of the given call
	// type whose ScheduledFor has passed, ordered priority DESC,
	// position ASC, created_at ASC.
	ListEligible(ctx context.Context, workspaceID string, callType CallType, now time.Time, limit int) ([]QueueItem, error)

	// Claim atomically transitions the item queued→processing. It
	// returns false when the item is no longer queued (claimed by
	// another worker, cancelled, resolved).
	Claim(ctx context.Context, workspaceID, itemID string, now time.Time) (bool, error)

	// AttachCall records the dispatched call id on a processing item.
	AttachCall(ctx context.Context, workspaceID, itemID, callID string, now time.Time) error

	// MarkTerminal resolves a processing item. It returns false when the
	// item was already terminal, making terminal writes idempotent.
	MarkTerminal(ctx context.Context, workspaceID, itemID string, status Status, lastOutcome, failureReason string, now time.Time) (bool, error)

	// TenantsWithQueued lists workspace ids that have at least one
	// eligible queued item right now.
	TenantsWithQueued(ctx context.Context, now time.Time) ([]string, error)
}
