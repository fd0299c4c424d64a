package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DirectPriority is the Priority assigned to user-initiated dials.
// It only matters relative to other direct items; the direct/campaign
// split is a hard class, not a priority value.
const DirectPriority = 100

// Contact is the enqueue-time view of a campaign contact.
type Contact struct {
	ContactID   string `json:"contact_id"`
	ContactName string `json:"contact_name,omitempty"`
	Number      string `json:"number"`
	Priority    int    `json:"priority,omitempty"`
}

// Service creates queue items. It does not decide when they run; that
// belongs to the dispatcher.
type Service struct {
	store Store
	clock func() time.Time

	// notify wakes the dispatch loop after an enqueue. Optional.
	notify func()
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// OnEnqueue registers a hook invoked after every successful enqueue.
func (s *Service) OnEnqueue(fn func()) { s.notify = fn }

// EnqueueDirect queues a user-initiated dial. Direct items always
// dispatch ahead of campaign items for the same tenant.
func (s *Service) EnqueueDirect(ctx context.Context, workspaceID, agentID, contactID, contactName, number string) (QueueItem, error) {
	now := s.clock().UTC()
	item := QueueItem{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		AgentID:      agentID,
		ContactID:    contactID,
		ContactName:  contactName,
		Number:       number,
		CallType:     CallTypeDirect,
		Priority:     DirectPriority,
		ScheduledFor: now,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	out, err := s.store.Enqueue(ctx, item)
	if err != nil {
		return QueueItem{}, err
	}
	s.wake()
	return out, nil
}

// EnqueueCampaignBatch queues one item per contact for a campaign and
// returns how many were created.
func (s *Service) EnqueueCampaignBatch(ctx context.Context, workspaceID, campaignID, agentID string, contacts []Contact) (int, error) {
	if workspaceID == "" || campaignID == "" {
		return 0, ErrInvalidArgument
	}
	now := s.clock().UTC()
	count := 0
	for _, c := range contacts {
		item := QueueItem{
			ID:           uuid.NewString(),
			WorkspaceID:  workspaceID,
			CampaignID:   campaignID,
			AgentID:      agentID,
			ContactID:    c.ContactID,
			ContactName:  c.ContactName,
			Number:       c.Number,
			CallType:     CallTypeCampaign,
			Priority:     c.Priority,
			ScheduledFor: now,
			Status:       StatusQueued,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := s.store.Enqueue(ctx, item); err != nil {
			return count, err
		}
		count++
	}
	if count > 0 {
		s.wake()
	}
	return count, nil
}

// EnqueueRetry queues a derived retry item planned by the retry
// scheduler.
func (s *Service) EnqueueRetry(ctx context.Context, item QueueItem) (QueueItem, error) {
	out, err := s.store.Enqueue(ctx, item)
	if err != nil {
		return QueueItem{}, err
	}
	s.wake()
	return out, nil
}

func (s *Service) wake() {
	if s.notify != nil {
		s.notify()
	}
}
