package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCampaignControl records a pause/resume/cancel action on a campaign.
func (s *Service) LogCampaignControl(ctx context.Context, workspaceID, actorUserID, actorRole, ip, campaignID, action string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeCampaignControl,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CampaignID:  campaignID,
		Message:     "campaign " + action,
	})
}

// LogLimitChange records a concurrency-limit change for a tenant.
func (s *Service) LogLimitChange(ctx context.Context, workspaceID, actorUserID, actorRole, ip, message string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeLimitChange,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
	})
}

// LogLeaseReclaim records a lease force-released by the reconciliation
// sweep. No actor: the system itself is the actor.
func (s *Service) LogLeaseReclaim(ctx context.Context, workspaceID, callID, queueItemID string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeLeaseReclaim,
		CallID:      callID,
		QueueItemID: queueItemID,
		Message:     "stale lease reclaimed",
	})
}
