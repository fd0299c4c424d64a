package queue

import (
	"errors"
	"fmt"
	"time"
)

// QueueItem is one dispatchable unit of outbound-call work.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// Call-type invariant:
// - CallType == campaign requires CampaignID != ""
// - CallType == direct requires CampaignID == ""
//
// Direct items form a hard priority class above campaign items for the
// same tenant; the Priority field only orders items within a class.

type QueueItem struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CampaignID  string `json:"campaign_id,omitempty" db:"campaign_id"`
	AgentID     string `json:"agent_id" db:"agent_id"`
	ContactID   string `json:"contact_id" db:"contact_id"`
	ContactName string `json:"contact_name,omitempty" db:"contact_name"`

	// Number is the destination, E.164 where possible.
	Number string `json:"number" db:"number"`

	CallType CallType `json:"call_type" db:"call_type"`

	// Priority orders items within a call-type class; higher first.
	Priority int `json:"priority" db:"priority"`

	// Position is the FIFO tie-break, assigned by the store on enqueue.
	Position int64 `json:"position" db:"position"`

	// ScheduledFor gates eligibility; the item is not dispatchable before
	// this instant.
	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`

	Status Status `json:"status" db:"status"`

	// Retry lineage.
	RetryCount          int    `json:"retry_count" db:"retry_count"`
	OriginalQueueItemID string `json:"original_queue_item_id,omitempty" db:"original_queue_item_id"`
	LastOutcome         string `json:"last_outcome,omitempty" db:"last_outcome"`

	// CallID links to the dispatched call once the provider accepts it.
	CallID        string `json:"call_id,omitempty" db:"call_id"`
	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallType string

const (
	CallTypeDirect   CallType = "direct"
	CallTypeCampaign CallType = "campaign"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusSkipped    Status = "skipped"
)

// IsTerminal reports whether the item can never change status again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

var (
	ErrNotFound        = errors.New("queue: not found")
	ErrInvalidArgument = errors.New("queue: invalid argument")
)

// Validate enforces the enqueue invariants.
func (i QueueItem) Validate() error {
	if i.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace_id required", ErrInvalidArgument)
	}
	if i.Number == "" {
		return fmt.Errorf("%w: number required", ErrInvalidArgument)
	}
	switch i.CallType {
	case CallTypeDirect:
		if i.CampaignID != "" {
			return fmt.Errorf("%w: direct item must not carry campaign_id", ErrInvalidArgument)
		}
	case CallTypeCampaign:
		if i.CampaignID == "" {
			return fmt.Errorf("%w: campaign item requires campaign_id", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown call_type %q", ErrInvalidArgument, i.CallType)
	}
	return nil
}

// Less orders two eligible items within the same call-type class:
// priority DESC, position ASC, created_at ASC.
func Less(a, b QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
