package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresWorkspaceAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeCampaignControl}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{WorkspaceID: "w"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogCampaignControl(context.Background(), "w", "u", "owner", "1.2.3.4", "c-1", "paused"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].Type != EventTypeCampaignControl {
		t.Fatalf("expected campaign_control")
	}
	if evs[0].CampaignID != "c-1" || evs[0].Message != "campaign paused" {
		t.Fatalf("unexpected event payload: %+v", evs[0])
	}
}

func TestService_LeaseReclaimHasNoActor(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogLeaseReclaim(context.Background(), "w", "call-1", "item-1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.Events()
	if len(evs) != 1 || evs[0].ActorUserID != "" || evs[0].CallID != "call-1" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}
