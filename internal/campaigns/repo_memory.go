package campaigns

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development.
//
// NOTE: This is not intended for production; replace with the Postgres
// implementation.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign // keyed by workspaceID + "/" + campaignID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: make(map[string]Campaign)}
}

func memKey(workspaceID, campaignID string) string {
	return workspaceID + "/" + campaignID
}

func (r *MemoryRepo) Insert(ctx context.Context, c Campaign) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[memKey(c.WorkspaceID, c.ID)] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, workspaceID, campaignID string) (Campaign, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[memKey(workspaceID, campaignID)]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

// Mutate applies fn under the repo mutex, so concurrent mutations of
// the same campaign fully serialize.
func (r *MemoryRepo) Mutate(ctx context.Context, workspaceID, campaignID string, fn func(*Campaign) error) (Campaign, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memKey(workspaceID, campaignID)
	c, ok := r.campaigns[key]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	if err := fn(&c); err != nil {
		return Campaign{}, err
	}
	r.campaigns[key] = c
	return c, nil
}
