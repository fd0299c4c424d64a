package capacity

import (
	"context"
	"sync"
	"time"

	"dialer-platform/internal/queue"
)

// MemoryLeaseStore keeps leases in memory under one mutex, which is
// exactly the atomicity TryInsert requires in a single process.
type MemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[string]Lease
}

func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{leases: make(map[string]Lease)}
}

func (s *MemoryLeaseStore) TryInsert(ctx context.Context, lease Lease, tenantLimit, systemLimit int) (bool, error) {
	_ = ctx
	if lease.CallID == "" || lease.WorkspaceID == "" {
		return false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant := 0
	for _, l := range s.leases {
		if l.WorkspaceID == lease.WorkspaceID {
			tenant++
		}
	}
	if tenant >= tenantLimit {
		return false, nil
	}
	if len(s.leases) >= systemLimit {
		return false, nil
	}
	s.leases[lease.CallID] = lease
	return true, nil
}

func (s *MemoryLeaseStore) Delete(ctx context.Context, callID string) (Lease, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[callID]
	if !ok {
		return Lease{}, false, nil
	}
	delete(s.leases, callID)
	return l, true, nil
}

func (s *MemoryLeaseStore) AttachProvider(ctx context.Context, callID, providerCallID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[callID]
	if !ok {
		return ErrNotFound
	}
	l.ProviderCallID = providerCallID
	s.leases[callID] = l
	return nil
}

func (s *MemoryLeaseStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]Lease, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Lease
	for _, l := range s.leases {
		if l.StartedAt.Before(cutoff) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *MemoryLeaseStore) TenantSnapshot(ctx context.Context, workspaceID string) (TenantSnapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := TenantSnapshot{WorkspaceID: workspaceID}
	for _, l := range s.leases {
		if l.WorkspaceID != workspaceID {
			continue
		}
		snap.ActiveCalls++
		if l.CallType == queue.CallTypeDirect {
			snap.DirectActive++
		} else {
			snap.CampaignActive++
		}
	}
	return snap, nil
}

func (s *MemoryLeaseStore) SystemSnapshot(ctx context.Context) (SystemSnapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SystemSnapshot{}
	tenants := make(map[string]struct{})
	for _, l := range s.leases {
		snap.TotalActive++
		tenants[l.WorkspaceID] = struct{}{}
		if l.CallType == queue.CallTypeDirect {
			snap.DirectActive++
		} else {
			snap.CampaignActive++
		}
	}
	snap.TenantsWithActiveCall = len(tenants)
	return snap, nil
}

// MemoryLimitStore is an in-memory LimitStore for tests and early
// development.
type MemoryLimitStore struct {
	mu     sync.Mutex
	limits map[string]TenantConcurrencyConfig
}

func NewMemoryLimitStore() *MemoryLimitStore {
	return &MemoryLimitStore{limits: make(map[string]TenantConcurrencyConfig)}
}

func (s *MemoryLimitStore) GetLimit(ctx context.Context, workspaceID string) (int, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.limits[workspaceID]
	if !ok {
		return 0, false, nil
	}
	return cfg.ConcurrentCallsLimit, true, nil
}

func (s *MemoryLimitStore) SetLimit(ctx context.Context, workspaceID string, limit int, now time.Time) error {
	_ = ctx
	if limit < 1 {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[workspaceID] = TenantConcurrencyConfig{
		WorkspaceID:          workspaceID,
		ConcurrentCallsLimit: limit,
		UpdatedAt:            now,
	}
	return nil
}
