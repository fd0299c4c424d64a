package capacity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dialer-platform/internal/queue"
	"dialer-platform/pkg/utils"
)

// PostgresLeaseStore persists leases in the active_call_leases table.
//
// NOTE: This store assumes the following tables exist:
// - active_call_leases
// - tenant_concurrency_configs
//
// TryInsert serializes concurrent acquisitions with a transaction-scoped
// advisory lock, then reads both counts and inserts inside the same
// transaction. Horizontal scaling is safe: every instance contends on
// the same lock key.

const leaseAdvisoryLockKey = int64(0x6469616c6c736531) // "diallse1"

type PostgresLeaseStore struct {
	db *sql.DB
}

func NewPostgresLeaseStore(db *sql.DB) *PostgresLeaseStore {
	return &PostgresLeaseStore{db: db}
}

func (s *PostgresLeaseStore) TryInsert(ctx context.Context, lease Lease, tenantLimit, systemLimit int) (bool, error) {
	if lease.CallID == "" || lease.WorkspaceID == "" {
		return false, ErrInvalidArgument
	}
	acquired := false
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, leaseAdvisoryLockKey); err != nil {
			return err
		}

		var tenant, total int
		const countQ = `
SELECT COUNT(*) FILTER (WHERE workspace_id = $1), COUNT(*)
FROM active_call_leases
`
		if err := tx.QueryRowContext(ctx, countQ, lease.WorkspaceID).Scan(&tenant, &total); err != nil {
			return err
		}
		if tenant >= tenantLimit || total >= systemLimit {
			return nil
		}

		const insertQ = `
INSERT INTO active_call_leases (call_id, workspace_id, call_type, queue_item_id, provider_call_id, started_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
		if _, err := tx.ExecContext(ctx, insertQ,
			lease.CallID, lease.WorkspaceID, lease.CallType, lease.QueueItemID, lease.ProviderCallID, lease.StartedAt,
		); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

func (s *PostgresLeaseStore) Delete(ctx context.Context, callID string) (Lease, bool, error) {
	const q = `
DELETE FROM active_call_leases
WHERE call_id = $1
RETURNING call_id, workspace_id, call_type, queue_item_id, COALESCE(provider_call_id,''), started_at
`
	var l Lease
	err := s.db.QueryRowContext(ctx, q, callID).Scan(
		&l.CallID, &l.WorkspaceID, &l.CallType, &l.QueueItemID, &l.ProviderCallID, &l.StartedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lease{}, false, nil
		}
		return Lease{}, false, err
	}
	return l, true, nil
}

func (s *PostgresLeaseStore) AttachProvider(ctx context.Context, callID, providerCallID string) error {
	const q = `
UPDATE active_call_leases SET provider_call_id = $2 WHERE call_id = $1
`
	res, err := s.db.ExecContext(ctx, q, callID, providerCallID)
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

func (s *PostgresLeaseStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]Lease, error) {
	const q = `
SELECT call_id, workspace_id, call_type, queue_item_id, COALESCE(provider_call_id,''), started_at
FROM active_call_leases
WHERE started_at < $1
`
	rows, err := s.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lease
	for rows.Next() {
		var l Lease
		if err := rows.Scan(&l.CallID, &l.WorkspaceID, &l.CallType, &l.QueueItemID, &l.ProviderCallID, &l.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresLeaseStore) TenantSnapshot(ctx context.Context, workspaceID string) (TenantSnapshot, error) {
	const q = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE call_type = $2),
       COUNT(*) FILTER (WHERE call_type = $3)
FROM active_call_leases
WHERE workspace_id = $1
`
	snap := TenantSnapshot{WorkspaceID: workspaceID}
	err := s.db.QueryRowContext(ctx, q, workspaceID, queue.CallTypeDirect, queue.CallTypeCampaign).
		Scan(&snap.ActiveCalls, &snap.DirectActive, &snap.CampaignActive)
	if err != nil {
		return TenantSnapshot{}, err
	}
	return snap, nil
}

func (s *PostgresLeaseStore) SystemSnapshot(ctx context.Context) (SystemSnapshot, error) {
	const q = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE call_type = $1),
       COUNT(*) FILTER (WHERE call_type = $2),
       COUNT(DISTINCT workspace_id)
FROM active_call_leases
`
	var snap SystemSnapshot
	err := s.db.QueryRowContext(ctx, q, queue.CallTypeDirect, queue.CallTypeCampaign).
		Scan(&snap.TotalActive, &snap.DirectActive, &snap.CampaignActive, &snap.TenantsWithActiveCall)
	if err != nil {
		return SystemSnapshot{}, err
	}
	return snap, nil
}

// PostgresLimitStore persists per-tenant concurrency limits.
type PostgresLimitStore struct {
	db *sql.DB
}

func NewPostgresLimitStore(db *sql.DB) *PostgresLimitStore {
	return &PostgresLimitStore{db: db}
}

func (s *PostgresLimitStore) GetLimit(ctx context.Context, workspaceID string) (int, bool, error) {
	const q = `
SELECT concurrent_calls_limit FROM tenant_concurrency_configs WHERE workspace_id = $1
`
	var limit int
	err := s.db.QueryRowContext(ctx, q, workspaceID).Scan(&limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return limit, true, nil
}

func (s *PostgresLimitStore) SetLimit(ctx context.Context, workspaceID string, limit int, now time.Time) error {
	if limit < 1 {
		return ErrInvalidArgument
	}
	const q = `
INSERT INTO tenant_concurrency_configs (workspace_id, concurrent_calls_limit, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (workspace_id)
DO UPDATE SET concurrent_calls_limit = EXCLUDED.concurrent_calls_limit,
              updated_at = EXCLUDED.updated_at
`
	_, err := s.db.ExecContext(ctx, q, workspaceID, limit, now)
	return err
}
