package campaigns

import (
	"errors"
	"fmt"
	"time"
)

// Campaign is a tenant-scoped batch of automated outbound calls.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// Dispatch invariant: items belonging to a campaign are never dispatched
// unless the campaign status is "active" and the current time falls inside
// the campaign's daily calling window.

type Campaign struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	AgentID     string `json:"agent_id" db:"agent_id"`

	Name string `json:"name" db:"name"`

	// FirstCallTime/LastCallTime bound the daily calling window as
	// minutes-of-day; the window is [FirstCallTime, LastCallTime).
	FirstCallTime MinuteOfDay `json:"first_call_time" db:"first_call_time"`
	LastCallTime  MinuteOfDay `json:"last_call_time" db:"last_call_time"`

	StartDate time.Time  `json:"start_date" db:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`

	Status Status `json:"status" db:"status"`

	RetryStrategy        RetryStrategy `json:"retry_strategy" db:"retry_strategy"`
	MaxRetries           int           `json:"max_retries" db:"max_retries"`
	RetryIntervalMinutes int           `json:"retry_interval_minutes,omitempty" db:"retry_interval_minutes"`
	RetrySchedule        []RetryStep   `json:"retry_schedule,omitempty" db:"-"`

	// Aggregate counters are owned by the outcome pipeline; nothing else
	// may mutate them.
	TotalContacts   int `json:"total_contacts" db:"total_contacts"`
	TotalCalls      int `json:"total_calls" db:"total_calls"`
	CompletedCalls  int `json:"completed_calls" db:"completed_calls"`
	SuccessfulCalls int `json:"successful_calls" db:"successful_calls"`
	FailedCalls     int `json:"failed_calls" db:"failed_calls"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status can never transition again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type RetryStrategy string

const (
	RetryStrategySimple RetryStrategy = "simple"
	RetryStrategyCustom RetryStrategy = "custom"
)

// RetryStep is one entry of a custom retry schedule.
// AttemptNumber is 1-based: attempt 1 is the first retry after the
// original call.
type RetryStep struct {
	AttemptNumber int `json:"attempt_number" db:"attempt_number"`
	DelayMinutes  int `json:"delay_minutes" db:"delay_minutes"`
}

// MinuteOfDay is a recurring time-of-day expressed as minutes since
// midnight, in the range [0, 1440).
type MinuteOfDay int

func (m MinuteOfDay) Valid() bool { return m >= 0 && m < 24*60 }

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// ParseMinuteOfDay parses "HH:MM". The whole string must match; a
// seconds component or trailing text is rejected.
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time-of-day %q", ErrInvalidArgument, s)
	}
	return MinuteOfDay(t.Hour()*60 + t.Minute()), nil
}

// MinuteOfDayAt extracts the minute-of-day from t (in t's location).
func MinuteOfDayAt(t time.Time) MinuteOfDay {
	return MinuteOfDay(t.Hour()*60 + t.Minute())
}

const MaxRetriesCeiling = 5

var (
	ErrNotFound        = errors.New("campaigns: not found")
	ErrInvalidArgument = errors.New("campaigns: invalid argument")
	ErrInvalidState    = errors.New("campaigns: invalid state transition")
)

// Validate enforces the invariants a campaign must satisfy on save.
func (c Campaign) Validate() error {
	if c.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace_id required", ErrInvalidArgument)
	}
	if !c.FirstCallTime.Valid() || !c.LastCallTime.Valid() {
		return fmt.Errorf("%w: call window out of range", ErrInvalidArgument)
	}
	if c.FirstCallTime >= c.LastCallTime {
		return fmt.Errorf("%w: first_call_time must precede last_call_time", ErrInvalidArgument)
	}
	if c.StartDate.IsZero() {
		return fmt.Errorf("%w: start_date required", ErrInvalidArgument)
	}
	if c.EndDate != nil && c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("%w: end_date before start_date", ErrInvalidArgument)
	}
	if c.MaxRetries < 0 || c.MaxRetries > MaxRetriesCeiling {
		return fmt.Errorf("%w: max_retries must be in [0,%d]", ErrInvalidArgument, MaxRetriesCeiling)
	}
	switch c.RetryStrategy {
	case RetryStrategySimple:
		if c.MaxRetries > 0 && c.RetryIntervalMinutes <= 0 {
			return fmt.Errorf("%w: retry_interval_minutes required for simple strategy", ErrInvalidArgument)
		}
	case RetryStrategyCustom:
		if len(c.RetrySchedule) == 0 {
			return fmt.Errorf("%w: custom strategy requires a retry schedule", ErrInvalidArgument)
		}
		if len(c.RetrySchedule) > MaxRetriesCeiling {
			return fmt.Errorf("%w: retry schedule exceeds %d entries", ErrInvalidArgument, MaxRetriesCeiling)
		}
		for i, step := range c.RetrySchedule {
			if step.AttemptNumber != i+1 {
				return fmt.Errorf("%w: retry schedule attempt numbers must be 1..n in order", ErrInvalidArgument)
			}
			if step.DelayMinutes <= 0 {
				return fmt.Errorf("%w: retry delay must be positive", ErrInvalidArgument)
			}
		}
	default:
		return fmt.Errorf("%w: unknown retry strategy %q", ErrInvalidArgument, c.RetryStrategy)
	}
	return nil
}

// RetryDelay returns the delay before retry attempt n (1-based) and
// whether the policy still allows that attempt.
func (c Campaign) RetryDelay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > c.MaxRetries {
		return 0, false
	}
	switch c.RetryStrategy {
	case RetryStrategySimple:
		if c.RetryIntervalMinutes <= 0 {
			return 0, false
		}
		return time.Duration(c.RetryIntervalMinutes) * time.Minute, true
	case RetryStrategyCustom:
		for _, step := range c.RetrySchedule {
			if step.AttemptNumber == attempt {
				return time.Duration(step.DelayMinutes) * time.Minute, true
			}
		}
		// Attempt number beyond the configured list: exhausted.
		return 0, false
	}
	return 0, false
}
