package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists queue items in the queue_items table.
//
// NOTE: This store assumes the following table exists:
// - queue_items with position BIGSERIAL (FIFO tie-break assigned by the DB)
//
// The Claim CAS relies on the conditional UPDATE's affected-row count,
// so it is safe under any number of concurrent dispatch workers.

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Enqueue(ctx context.Context, item QueueItem) (QueueItem, error) {
	if err := item.Validate(); err != nil {
		return QueueItem{}, err
	}
	const q = `
INSERT INTO queue_items (
  id, workspace_id, campaign_id, agent_id, contact_id, contact_name, number,
  call_type, priority, scheduled_for, status,
  retry_count, original_queue_item_id, last_outcome,
  created_at, updated_at
) VALUES (
  $1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,$15,$16
)
RETURNING position
`
	err := s.db.QueryRowContext(ctx, q,
		item.ID, item.WorkspaceID, item.CampaignID, item.AgentID, item.ContactID, item.ContactName, item.Number,
		item.CallType, item.Priority, item.ScheduledFor, item.Status,
		item.RetryCount, item.OriginalQueueItemID, item.LastOutcome,
		item.CreatedAt, item.UpdatedAt,
	).Scan(&item.Position)
	if err != nil {
		return QueueItem{}, err
	}
	return item, nil
}

const selectItemColumns = `
SELECT id, workspace_id, COALESCE(campaign_id,''), agent_id, contact_id, contact_name, number,
       call_type, priority, position, scheduled_for, status,
       retry_count, COALESCE(original_queue_item_id,''), last_outcome,
       COALESCE(call_id,''), failure_reason, created_at, updated_at
FROM queue_items
`

func scanItem(row interface{ Scan(...any) error }) (QueueItem, error) {
	var it QueueItem
	err := row.Scan(
		&it.ID, &it.WorkspaceID, &it.CampaignID, &it.AgentID, &it.ContactID, &it.ContactName, &it.Number,
		&it.CallType, &it.Priority, &it.Position, &it.ScheduledFor, &it.Status,
		&it.RetryCount, &it.OriginalQueueItemID, &it.LastOutcome,
		&it.CallID, &it.FailureReason, &it.CreatedAt, &it.UpdatedAt,
	)
	return it, err
}

func (s *PostgresStore) Get(ctx context.Context, workspaceID, itemID string) (QueueItem, error) {
	const q = selectItemColumns + `WHERE workspace_id = $1 AND id = $2`
	it, err := scanItem(s.db.QueryRowContext(ctx, q, workspaceID, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return QueueItem{}, ErrNotFound
		}
		return QueueItem{}, err
	}
	return it, nil
}

func (s *PostgresStore) ListEligible(ctx context.Context, workspaceID string, callType CallType, now time.Time, limit int) ([]QueueItem, error) {
	const q = selectItemColumns + `
WHERE workspace_id = $1
  AND call_type = $2
  AND status = 'queued'
  AND scheduled_for <= $3
ORDER BY priority DESC, position ASC, created_at ASC
LIMIT $4
`
	rows, err := s.db.QueryContext(ctx, q, workspaceID, callType, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Claim(ctx context.Context, workspaceID, itemID string, now time.Time) (bool, error) {
	const q = `
UPDATE queue_items
SET status = 'processing', updated_at = $3
WHERE workspace_id = $1 AND id = $2 AND status = 'queued'
`
	res, err := s.db.ExecContext(ctx, q, workspaceID, itemID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) AttachCall(ctx context.Context, workspaceID, itemID, callID string, now time.Time) error {
	const q = `
UPDATE queue_items
SET call_id = $3, updated_at = $4
WHERE workspace_id = $1 AND id = $2
`
	res, err := s.db.ExecContext(ctx, q, workspaceID, itemID, callID, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkTerminal(ctx context.Context, workspaceID, itemID string, status Status, lastOutcome, failureReason string, now time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, ErrInvalidArgument
	}
	const q = `
UPDATE queue_items
SET status = $3, last_outcome = $4, failure_reason = $5, updated_at = $6
WHERE workspace_id = $1 AND id = $2
  AND status IN ('queued','processing')
`
	res, err := s.db.ExecContext(ctx, q, workspaceID, itemID, status, lastOutcome, failureReason, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) TenantsWithQueued(ctx context.Context, now time.Time) ([]string, error) {
	const q = `
SELECT DISTINCT workspace_id
FROM queue_items
WHERE status = 'queued' AND scheduled_for <= $1
ORDER BY workspace_id
`
	rows, err := s.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ws string
		if err := rows.Scan(&ws); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}
