package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func enqueue(t *testing.T, s *MemoryStore, item QueueItem) QueueItem {
	t.Helper()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if item.ID == "" {
		item.ID = "item-" + item.ContactID
	}
	if item.Status == "" {
		item.Status = StatusQueued
	}
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = now
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	out, err := s.Enqueue(context.Background(), item)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return out
}

func TestListEligible_Ordering(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	enqueue(t, s, QueueItem{WorkspaceID: "ws", ContactID: "a", Number: "+1", CallType: CallTypeCampaign, CampaignID: "c1", Priority: 0})
	enqueue(t, s, QueueItem{WorkspaceID: "ws", ContactID: "b", Number: "+2", CallType: CallTypeCampaign, CampaignID: "c1", Priority: 5})
	enqueue(t, s, QueueItem{WorkspaceID: "ws", ContactID: "c", Number: "+3", CallType: CallTypeCampaign, CampaignID: "c1", Priority: 5})
	// Not yet eligible.
	enqueue(t, s, QueueItem{WorkspaceID: "ws", ContactID: "d", Number: "+4", CallType: CallTypeCampaign, CampaignID: "c1", Priority: 9, ScheduledFor: now.Add(time.Hour)})

	got, err := s.ListEligible(context.Background(), "ws", CallTypeCampaign, now, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 eligible, got %d", len(got))
	}
	// priority DESC then position ASC: b before c before a.
	if got[0].ContactID != "b" || got[1].ContactID != "c" || got[2].ContactID != "a" {
		t.Fatalf("unexpected order: %s %s %s", got[0].ContactID, got[1].ContactID, got[2].ContactID)
	}
}

func TestListEligible_CallTypeIsHardClass(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Campaign item with a sky-high priority must never surface in a
	// direct listing.
	enqueue(t, s, QueueItem{WorkspaceID: "ws", ContactID: "camp", Number: "+1", CallType: CallTypeCampaign, CampaignID: "c1", Priority: 999})
	enqueue(t, s, QueueItem{WorkspaceID: "ws", ContactID: "dir", Number: "+2", CallType: CallTypeDirect, Priority: 0})

	direct, err := s.ListEligible(context.Background(), "ws", CallTypeDirect, now, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(direct) != 1 || direct[0].ContactID != "dir" {
		t.Fatalf("expected only the direct item, got %+v", direct)
	}
}

func TestClaim_AtMostOnce(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	item := enqueue(t, s, QueueItem{WorkspaceID: "ws", ContactID: "a", Number: "+1", CallType: CallTypeDirect})

	const workers = 10
	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.Claim(context.Background(), "ws", item.ID, now)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winning claim, got %d", wins)
	}
	got, _ := s.Get(context.Background(), "ws", item.ID)
	if got.Status != StatusProcessing {
		t.Fatalf("expected processing, got %q", got.Status)
	}
}

func TestMarkTerminal_Idempotent(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	item := enqueue(t, s, QueueItem{WorkspaceID: "ws", ContactID: "a", Number: "+1", CallType: CallTypeDirect})

	if ok, _ := s.Claim(context.Background(), "ws", item.ID, now); !ok {
		t.Fatalf("claim failed")
	}
	ok, err := s.MarkTerminal(context.Background(), "ws", item.ID, StatusCompleted, "completed", "", now)
	if err != nil || !ok {
		t.Fatalf("first terminal write: ok=%v err=%v", ok, err)
	}
	ok, err = s.MarkTerminal(context.Background(), "ws", item.ID, StatusCompleted, "completed", "", now)
	if err != nil {
		t.Fatalf("second terminal write: %v", err)
	}
	if ok {
		t.Fatalf("second terminal write must be a no-op")
	}
}

func TestValidate_CallTypeCampaignLinkage(t *testing.T) {
	bad := QueueItem{WorkspaceID: "ws", Number: "+1", CallType: CallTypeCampaign}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for campaign item without campaign_id")
	}
	bad = QueueItem{WorkspaceID: "ws", Number: "+1", CallType: CallTypeDirect, CampaignID: "c1"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for direct item with campaign_id")
	}
}

func TestTenantsWithQueued(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	enqueue(t, s, QueueItem{ID: "1", WorkspaceID: "ws-b", ContactID: "a", Number: "+1", CallType: CallTypeDirect})
	enqueue(t, s, QueueItem{ID: "2", WorkspaceID: "ws-a", ContactID: "b", Number: "+2", CallType: CallTypeDirect})
	enqueue(t, s, QueueItem{ID: "3", WorkspaceID: "ws-c", ContactID: "c", Number: "+3", CallType: CallTypeDirect, ScheduledFor: now.Add(time.Hour)})

	got, err := s.TenantsWithQueued(context.Background(), now)
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	if len(got) != 2 || got[0] != "ws-a" || got[1] != "ws-b" {
		t.Fatalf("unexpected tenants: %v", got)
	}
}
