package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests and early
// development. All mutations run under one mutex, which also gives the
// Claim CAS its atomicity.
//
// NOTE: This is not intended for production; replace with the Postgres
// implementation.
type MemoryStore struct {
	mu       sync.Mutex
	items    map[string]*QueueItem
	position int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*QueueItem)}
}

func (s *MemoryStore) Enqueue(ctx context.Context, item QueueItem) (QueueItem, error) {
	_ = ctx
	if err := item.Validate(); err != nil {
		return QueueItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position++
	item.Position = s.position
	cp := item
	s.items[item.ID] = &cp
	return item, nil
}

func (s *MemoryStore) Get(ctx context.Context, workspaceID, itemID string) (QueueItem, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok || it.WorkspaceID != workspaceID {
		return QueueItem{}, ErrNotFound
	}
	return *it, nil
}

func (s *MemoryStore) ListEligible(ctx context.Context, workspaceID string, callType CallType, now time.Time, limit int) ([]QueueItem, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []QueueItem
	for _, it := range s.items {
		if it.WorkspaceID != workspaceID {
			continue
		}
		if it.CallType != callType {
			continue
		}
		if it.Status != StatusQueued {
			continue
		}
		if it.ScheduledFor.After(now) {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Claim(ctx context.Context, workspaceID, itemID string, now time.Time) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok || it.WorkspaceID != workspaceID {
		return false, ErrNotFound
	}
	if it.Status != StatusQueued {
		return false, nil
	}
	it.Status = StatusProcessing
	it.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) AttachCall(ctx context.Context, workspaceID, itemID, callID string, now time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok || it.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	it.CallID = callID
	it.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkTerminal(ctx context.Context, workspaceID, itemID string, status Status, lastOutcome, failureReason string, now time.Time) (bool, error) {
	_ = ctx
	if !status.IsTerminal() {
		return false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok || it.WorkspaceID != workspaceID {
		return false, ErrNotFound
	}
	if it.Status.IsTerminal() {
		return false, nil
	}
	it.Status = status
	it.LastOutcome = lastOutcome
	it.FailureReason = failureReason
	it.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) TenantsWithQueued(ctx context.Context, now time.Time) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, it := range s.items {
		if it.Status != StatusQueued || it.ScheduledFor.After(now) {
			continue
		}
		if _, ok := seen[it.WorkspaceID]; ok {
			continue
		}
		seen[it.WorkspaceID] = struct{}{}
		out = append(out, it.WorkspaceID)
	}
	sort.Strings(out)
	return out, nil
}
