package dispatch

import (
	"sort"
	"sync"
	"time"
)

// Allocator rotates the shared system-wide capacity pool across tenants
// competing for campaign slots: the tenant that has waited longest for
// an allocation goes first, so a tenant with a huge backlog cannot
// starve the others.
//
// Direct calls never consult the allocator; they represent explicit
// user intent and only answer to the per-tenant gatekeeper check.
//
// Ordering quality only: the allocator keeps its timestamps in memory
// and may be rebuilt on restart without breaking correctness.
type Allocator struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewAllocator() *Allocator {
	return &Allocator{last: make(map[string]time.Time)}
}

// PickTenant selects, from the eligible tenants, the one with the
// oldest (or missing) last allocation. Ties break lexicographically so
// the rotation is deterministic.
func (a *Allocator) PickTenant(tenants []string) (string, bool) {
	if len(tenants) == 0 {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	sorted := make([]string, len(tenants))
	copy(sorted, tenants)
	sort.Strings(sorted)

	best := sorted[0]
	bestAt := a.last[best]
	for _, ws := range sorted[1:] {
		at := a.last[ws]
		if at.Before(bestAt) {
			best = ws
			bestAt = at
		}
	}
	return best, true
}

// Stamp records that the tenant just received a system-wide slot.
func (a *Allocator) Stamp(workspaceID string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last[workspaceID] = now
}

// LastAllocation returns the tenant's last allocation time, zero when
// the tenant has never been allocated a slot.
func (a *Allocator) LastAllocation(workspaceID string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last[workspaceID]
}
