package campaigns

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for campaigns.
//
// Mutate loads the campaign, applies fn, and persists the result as one
// atomic unit. Concurrent mutations serialize on the row, so a status
// guard inside fn always sees the current status; a plain
// get-mutate-update sequence would let an outcome report overwrite a
// concurrent cancel with a stale snapshot.
type Repository interface {
	Insert(ctx context.Context, c Campaign) error
	Get(ctx context.Context, workspaceID, campaignID string) (Campaign, error)
	Mutate(ctx context.Context, workspaceID, campaignID string, fn func(*Campaign) error) (Campaign, error)
}

// Service is the campaign registry: it owns campaign lifecycle
// transitions and answers the dispatcher's "may I dispatch for this
// campaign right now?" question.
//
// Lazy activation: scheduled→active promotion happens when the
// dispatcher asks, not via a separate clock job.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Create(ctx context.Context, c Campaign) (Campaign, error) {
	if err := c.Validate(); err != nil {
		return Campaign{}, err
	}
	now := s.clock().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	// Future start date parks the campaign in scheduled; otherwise it is
	// dispatchable immediately.
	if now.Before(startOfDay(c.StartDate)) {
		c.Status = StatusScheduled
	} else {
		c.Status = StatusActive
	}
	if err := s.repo.Insert(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, workspaceID, campaignID string) (Campaign, error) {
	if workspaceID == "" || campaignID == "" {
		return Campaign{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, workspaceID, campaignID)
}

// IsDispatchable reports whether items for this campaign may be claimed
// right now. It also performs the lazy scheduled→active promotion.
func (s *Service) IsDispatchable(ctx context.Context, workspaceID, campaignID string, now time.Time) (bool, error) {
	c, err := s.repo.Get(ctx, workspaceID, campaignID)
	if err != nil {
		return false, err
	}

	if c.Status == StatusScheduled && !now.Before(startOfDay(c.StartDate)) {
		// Re-check under the mutation lock: an operator may have paused
		// or cancelled since the read above.
		c, err = s.repo.Mutate(ctx, workspaceID, campaignID, func(c *Campaign) error {
			if c.Status == StatusScheduled {
				c.Status = StatusActive
				c.UpdatedAt = now.UTC()
			}
			return nil
		})
		if err != nil {
			return false, err
		}
	}

	return Dispatchable(c, now), nil
}

// Dispatchable is the pure window/status check, separated so it can be
// evaluated against an already-loaded campaign.
func Dispatchable(c Campaign, now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	if c.EndDate != nil && now.After(endOfDay(*c.EndDate)) {
		return false
	}
	m := MinuteOfDayAt(now)
	return m >= c.FirstCallTime && m < c.LastCallTime
}

// Pause suspends dispatching for a campaign. In-flight calls are not
// affected; only new claims stop.
func (s *Service) Pause(ctx context.Context, workspaceID, campaignID string) (Campaign, error) {
	return s.transition(ctx, workspaceID, campaignID, func(c *Campaign) error {
		if c.Status.IsTerminal() {
			return fmt.Errorf("%w: cannot pause %s campaign", ErrInvalidState, c.Status)
		}
		if c.Status != StatusActive && c.Status != StatusScheduled {
			return fmt.Errorf("%w: cannot pause %s campaign", ErrInvalidState, c.Status)
		}
		c.Status = StatusPaused
		return nil
	})
}

func (s *Service) Resume(ctx context.Context, workspaceID, campaignID string) (Campaign, error) {
	return s.transition(ctx, workspaceID, campaignID, func(c *Campaign) error {
		if c.Status != StatusPaused {
			return fmt.Errorf("%w: cannot resume %s campaign", ErrInvalidState, c.Status)
		}
		c.Status = StatusActive
		return nil
	})
}

// Cancel is allowed from any non-terminal state and is itself terminal.
func (s *Service) Cancel(ctx context.Context, workspaceID, campaignID string) (Campaign, error) {
	return s.transition(ctx, workspaceID, campaignID, func(c *Campaign) error {
		if c.Status.IsTerminal() {
			return fmt.Errorf("%w: campaign already %s", ErrInvalidState, c.Status)
		}
		c.Status = StatusCancelled
		return nil
	})
}

// OutcomeDelta describes the counter movement for one resolved call.
type OutcomeDelta struct {
	Completed  int
	Successful int
	Failed     int
}

// ApplyOutcome moves the aggregate counters for one resolved queue item
// and auto-completes the campaign once every contact is resolved.
// Only the outcome pipeline may call this.
func (s *Service) ApplyOutcome(ctx context.Context, workspaceID, campaignID string, d OutcomeDelta) (Campaign, error) {
	return s.transition(ctx, workspaceID, campaignID, func(c *Campaign) error {
		c.TotalCalls++
		c.CompletedCalls += d.Completed
		c.SuccessfulCalls += d.Successful
		c.FailedCalls += d.Failed
		if c.Status == StatusActive && c.TotalContacts > 0 &&
			c.CompletedCalls+c.FailedCalls >= c.TotalContacts {
			c.Status = StatusCompleted
		}
		return nil
	})
}

// AddContacts grows the contact total when a batch is enqueued.
func (s *Service) AddContacts(ctx context.Context, workspaceID, campaignID string, n int) (Campaign, error) {
	if n <= 0 {
		return Campaign{}, ErrInvalidArgument
	}
	return s.transition(ctx, workspaceID, campaignID, func(c *Campaign) error {
		if c.Status.IsTerminal() {
			return fmt.Errorf("%w: campaign is %s", ErrInvalidState, c.Status)
		}
		c.TotalContacts += n
		return nil
	})
}

func (s *Service) transition(ctx context.Context, workspaceID, campaignID string, mutate func(*Campaign) error) (Campaign, error) {
	if workspaceID == "" || campaignID == "" {
		return Campaign{}, ErrInvalidArgument
	}
	return s.repo.Mutate(ctx, workspaceID, campaignID, func(c *Campaign) error {
		if err := mutate(c); err != nil {
			return err
		}
		c.UpdatedAt = s.clock().UTC()
		return nil
	})
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).Add(24*time.Hour - time.Nanosecond)
}
