package campaigns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"dialer-platform/pkg/utils"
)

// PostgresRepo persists campaigns in the campaigns table.
//
// NOTE: This repository assumes the following table exists:
// - campaigns (retry_schedule stored as JSONB)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, c Campaign) error {
	const q = `
INSERT INTO campaigns (
  id, workspace_id, agent_id, name,
  first_call_time, last_call_time, start_date, end_date,
  status, retry_strategy, max_retries, retry_interval_minutes, retry_schedule,
  total_contacts, total_calls, completed_calls, successful_calls, failed_calls,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
`
	schedule, err := json.Marshal(c.RetrySchedule)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		c.ID, c.WorkspaceID, c.AgentID, c.Name,
		int(c.FirstCallTime), int(c.LastCallTime), c.StartDate, c.EndDate,
		c.Status, c.RetryStrategy, c.MaxRetries, c.RetryIntervalMinutes, schedule,
		c.TotalContacts, c.TotalCalls, c.CompletedCalls, c.SuccessfulCalls, c.FailedCalls,
		c.CreatedAt, c.UpdatedAt,
	)
	return err
}

const selectCampaign = `
SELECT id, workspace_id, agent_id, name,
       first_call_time, last_call_time, start_date, end_date,
       status, retry_strategy, max_retries, retry_interval_minutes, retry_schedule,
       total_contacts, total_calls, completed_calls, successful_calls, failed_calls,
       created_at, updated_at
FROM campaigns
WHERE workspace_id = $1 AND id = $2
`

func scanCampaign(row *sql.Row) (Campaign, error) {
	var c Campaign
	var first, last int
	var schedule []byte
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.AgentID, &c.Name,
		&first, &last, &c.StartDate, &c.EndDate,
		&c.Status, &c.RetryStrategy, &c.MaxRetries, &c.RetryIntervalMinutes, &schedule,
		&c.TotalContacts, &c.TotalCalls, &c.CompletedCalls, &c.SuccessfulCalls, &c.FailedCalls,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	c.FirstCallTime = MinuteOfDay(first)
	c.LastCallTime = MinuteOfDay(last)
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &c.RetrySchedule); err != nil {
			return Campaign{}, err
		}
	}
	return c, nil
}

func (r *PostgresRepo) Get(ctx context.Context, workspaceID, campaignID string) (Campaign, error) {
	return scanCampaign(r.db.QueryRowContext(ctx, selectCampaign, workspaceID, campaignID))
}

// Mutate loads the row FOR UPDATE, applies fn, and writes the result
// back inside one transaction. The row lock serializes concurrent
// mutations across instances; without it an outcome report racing an
// operator cancel could write a stale status back.
func (r *PostgresRepo) Mutate(ctx context.Context, workspaceID, campaignID string, fn func(*Campaign) error) (Campaign, error) {
	const update = `
UPDATE campaigns SET
  agent_id = $3, name = $4,
  first_call_time = $5, last_call_time = $6, start_date = $7, end_date = $8,
  status = $9, retry_strategy = $10, max_retries = $11, retry_interval_minutes = $12, retry_schedule = $13,
  total_contacts = $14, total_calls = $15, completed_calls = $16, successful_calls = $17, failed_calls = $18,
  updated_at = $19
WHERE workspace_id = $1 AND id = $2
`
	var out Campaign
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := scanCampaign(tx.QueryRowContext(ctx, selectCampaign+"FOR UPDATE", workspaceID, campaignID))
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		schedule, err := json.Marshal(c.RetrySchedule)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, update,
			c.WorkspaceID, c.ID, c.AgentID, c.Name,
			int(c.FirstCallTime), int(c.LastCallTime), c.StartDate, c.EndDate,
			c.Status, c.RetryStrategy, c.MaxRetries, c.RetryIntervalMinutes, schedule,
			c.TotalContacts, c.TotalCalls, c.CompletedCalls, c.SuccessfulCalls, c.FailedCalls,
			c.UpdatedAt,
		)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Campaign{}, err
	}
	return out, nil
}
