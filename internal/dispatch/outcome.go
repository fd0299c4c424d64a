package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/capacity"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/telephony"
)

// Processor is the outcome pipeline: one explicit sequence of steps per
// terminal call event, replacing any implicit cascade.
//
//	outcome event -> release lease -> resolve queue item
//	             -> update campaign counters -> maybe enqueue retry
//
// The lease release is the idempotency gate: a duplicate report finds
// the lease already gone and stops before touching items or counters.
type Processor struct {
	store     queue.Store
	enqueue   *queue.Service
	campaigns *campaigns.Service
	gate      *capacity.Gatekeeper

	clock func() time.Time
	log   *slog.Logger
}

func NewProcessor(store queue.Store, enqueue *queue.Service, camps *campaigns.Service, gate *capacity.Gatekeeper, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		store:     store,
		enqueue:   enqueue,
		campaigns: camps,
		gate:      gate,
		clock:     time.Now,
		log:       log,
	}
}

// ReportOutcome handles a terminal provider event for a dispatched
// call. Reporting the same outcome twice releases the lease exactly
// once and never double-counts.
func (p *Processor) ReportOutcome(ctx context.Context, ev telephony.OutcomeEvent) error {
	if ev.CallID == "" {
		return fmt.Errorf("%w: call_id required", queue.ErrInvalidArgument)
	}
	if !ev.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", queue.ErrInvalidArgument, ev.Outcome)
	}

	lease, released, err := p.gate.Release(ctx, ev.CallID)
	if err != nil {
		return err
	}
	if !released {
		p.log.Debug("duplicate outcome report ignored", "call_id", ev.CallID, "outcome", ev.Outcome)
		return nil
	}

	return p.resolve(ctx, lease, ev.Outcome, "")
}

// FailDispatch resolves a claimed item whose provider request was
// rejected (invalid number, provider error). Distinct from busy and
// no-answer: it never retries.
func (p *Processor) FailDispatch(ctx context.Context, lease capacity.Lease, reason string) error {
	_, released, err := p.gate.Release(ctx, lease.CallID)
	if err != nil {
		return err
	}
	if !released {
		return nil
	}
	return p.resolve(ctx, lease, telephony.OutcomeFailed, reason)
}

// ReclaimLease resolves the queue item behind a lease that the
// reconciliation sweep force-released. The gatekeeper has already
// removed the lease.
func (p *Processor) ReclaimLease(ctx context.Context, lease capacity.Lease) {
	if err := p.resolve(ctx, lease, telephony.OutcomeFailed, "call outcome never reported"); err != nil {
		p.log.Error("reclaim resolution failed", "call_id", lease.CallID, "err", err)
	}
}

func (p *Processor) resolve(ctx context.Context, lease capacity.Lease, outcome telephony.Outcome, failureReason string) error {
	now := p.clock().UTC()

	item, err := p.store.Get(ctx, lease.WorkspaceID, lease.QueueItemID)
	if err != nil {
		return fmt.Errorf("resolve queue item for call %s: %w", lease.CallID, err)
	}

	var (
		status  queue.Status
		delta   campaigns.OutcomeDelta
		retry   queue.QueueItem
		doRetry bool
	)

	switch outcome {
	case telephony.OutcomeCompleted:
		status = queue.StatusCompleted
		delta = campaigns.OutcomeDelta{Completed: 1, Successful: 1}

	case telephony.OutcomeCancelled:
		status = queue.StatusCancelled
		delta = campaigns.OutcomeDelta{Failed: 1}

	case telephony.OutcomeFailed:
		status = queue.StatusFailed
		delta = campaigns.OutcomeDelta{Failed: 1}
		if failureReason == "" {
			failureReason = "provider reported failure"
		}

	case telephony.OutcomeBusy, telephony.OutcomeNoAnswer:
		// The attempt itself resolves as failed either way; the question
		// is whether a retry item replaces it.
		status = queue.StatusFailed
		if item.CampaignID != "" {
			c, err := p.campaigns.Get(ctx, item.WorkspaceID, item.CampaignID)
			if err != nil {
				return err
			}
			retry, doRetry = PlanRetry(c, item, outcome, now)
		}
		if doRetry {
			// The chain continues: no terminal counter movement yet.
			delta = campaigns.OutcomeDelta{}
		} else {
			delta = campaigns.OutcomeDelta{Failed: 1}
			if item.CampaignID == "" {
				failureReason = "no retry policy for direct calls"
			} else {
				failureReason = "retries exhausted"
			}
		}
	}

	resolved, err := p.store.MarkTerminal(ctx, item.WorkspaceID, item.ID, status, string(outcome), failureReason, now)
	if err != nil {
		return err
	}
	if !resolved {
		// Already terminal (e.g. reclaimed moments before the late
		// outcome arrived). Counters were moved by whoever resolved it.
		p.log.Debug("queue item already terminal", "item_id", item.ID)
		return nil
	}

	if item.CampaignID != "" {
		if _, err := p.campaigns.ApplyOutcome(ctx, item.WorkspaceID, item.CampaignID, delta); err != nil {
			if !errors.Is(err, campaigns.ErrNotFound) {
				return err
			}
		}
	}

	if doRetry {
		if _, err := p.enqueue.EnqueueRetry(ctx, retry); err != nil {
			return err
		}
		p.log.Info("retry scheduled",
			"workspace_id", item.WorkspaceID,
			"campaign_id", item.CampaignID,
			"root_item_id", retry.OriginalQueueItemID,
			"attempt", retry.RetryCount,
			"scheduled_for", retry.ScheduledFor,
		)
	}

	p.log.Info("call resolved",
		"workspace_id", item.WorkspaceID,
		"call_id", lease.CallID,
		"item_id", item.ID,
		"outcome", outcome,
		"status", status,
	)
	return nil
}
