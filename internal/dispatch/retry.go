package dispatch

import (
	"time"

	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/telephony"

	"github.com/google/uuid"
)

// PlanRetry decides whether a busy/no-answer attempt gets another try
// and, if so, derives the retry queue item.
//
// Rules:
// - Only busy and no-answer outcomes retry; failed is terminal.
// - The attempt number (RetryCount+1) must be allowed by the campaign's
//   policy; a custom schedule shorter than max_retries exhausts early.
// - The derived item keeps the chain root in OriginalQueueItemID so a
//   whole retry chain can be traced from any attempt.
func PlanRetry(c campaigns.Campaign, item queue.QueueItem, outcome telephony.Outcome, now time.Time) (queue.QueueItem, bool) {
	if !outcome.Retryable() {
		return queue.QueueItem{}, false
	}

	attempt := item.RetryCount + 1
	delay, ok := c.RetryDelay(attempt)
	if !ok {
		return queue.QueueItem{}, false
	}

	root := item.OriginalQueueItemID
	if root == "" {
		root = item.ID
	}

	retry := queue.QueueItem{
		ID:                  uuid.NewString(),
		WorkspaceID:         item.WorkspaceID,
		CampaignID:          item.CampaignID,
		AgentID:             item.AgentID,
		ContactID:           item.ContactID,
		ContactName:         item.ContactName,
		Number:              item.Number,
		CallType:            item.CallType,
		Priority:            item.Priority,
		ScheduledFor:        now.Add(delay),
		Status:              queue.StatusQueued,
		RetryCount:          attempt,
		OriginalQueueItemID: root,
		LastOutcome:         string(outcome),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	return retry, true
}
