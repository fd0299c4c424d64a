package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/capacity"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/telephony"

	"github.com/google/uuid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubProvider struct {
	mu      sync.Mutex
	err     error
	started chan telephony.StartCallRequest
}

func (p *stubProvider) Name() string                      { return "stub" }
func (p *stubProvider) HealthCheck(context.Context) error { return nil }

func (p *stubProvider) StartCall(_ context.Context, req telephony.StartCallRequest) (telephony.StartCallResult, error) {
	p.mu.Lock()
	err := p.err
	p.mu.Unlock()
	p.started <- req
	if err != nil {
		return telephony.StartCallResult{}, err
	}
	return telephony.StartCallResult{
		WorkspaceID:    req.WorkspaceID,
		CallID:         req.CallID,
		ProviderCallID: "PROV-" + req.CallID,
	}, nil
}

func (p *stubProvider) failWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// waitStart blocks until the provider accepts one call.
func (p *stubProvider) waitStart(t *testing.T) telephony.StartCallRequest {
	t.Helper()
	select {
	case req := <-p.started:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for provider dispatch")
		return telephony.StartCallRequest{}
	}
}

type testEnv struct {
	clock     *fakeClock
	store     *queue.MemoryStore
	queueSvc  *queue.Service
	campaigns *campaigns.Service
	gate      *capacity.Gatekeeper
	provider  *stubProvider
	processor *Processor
	disp      *Dispatcher
}

func newTestEnv(t *testing.T, systemLimit, tenantLimit int) *testEnv {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := queue.NewMemoryStore()
	camps := campaigns.NewService(campaigns.NewMemoryRepo())
	gate := capacity.NewGatekeeper(capacity.NewMemoryLeaseStore(), capacity.NewMemoryLimitStore(), capacity.GatekeeperConfig{
		SystemLimit:        systemLimit,
		DefaultTenantLimit: tenantLimit,
	}, nil)
	queueSvc := queue.NewService(store)
	provider := &stubProvider{started: make(chan telephony.StartCallRequest, 64)}

	processor := NewProcessor(store, queueSvc, camps, gate, nil)
	processor.clock = clk.Now

	disp := NewDispatcher(store, camps, gate, provider, processor, DispatcherConfig{
		CallerID: "+15550100",
	}, nil)
	disp.clock = clk.Now

	return &testEnv{
		clock:     clk,
		store:     store,
		queueSvc:  queueSvc,
		campaigns: camps,
		gate:      gate,
		provider:  provider,
		processor: processor,
		disp:      disp,
	}
}

// newCampaign creates an always-open active campaign unless mutated.
func (e *testEnv) newCampaign(t *testing.T, ws string, mutate func(*campaigns.Campaign)) campaigns.Campaign {
	t.Helper()
	c := campaigns.Campaign{
		WorkspaceID:   ws,
		AgentID:       "agent-1",
		Name:          "spring outreach",
		FirstCallTime: 0,
		LastCallTime:  1439,
		StartDate:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		RetryStrategy: campaigns.RetryStrategySimple,
	}
	if mutate != nil {
		mutate(&c)
	}
	out, err := e.campaigns.Create(context.Background(), c)
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return out
}

// enqueue writes directly through the store with an explicit
// ScheduledFor so eligibility tracks the fake clock, not wall time.
func (e *testEnv) enqueue(t *testing.T, ws, campaignID, number string, callType queue.CallType) queue.QueueItem {
	t.Helper()
	at := e.clock.Now().Add(-time.Minute)
	item := queue.QueueItem{
		ID:           uuid.NewString(),
		WorkspaceID:  ws,
		CampaignID:   campaignID,
		AgentID:      "agent-1",
		ContactID:    uuid.NewString(),
		Number:       number,
		CallType:     callType,
		ScheduledFor: at,
		Status:       queue.StatusQueued,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if callType == queue.CallTypeDirect {
		item.Priority = queue.DirectPriority
	}
	out, err := e.store.Enqueue(context.Background(), item)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return out
}

func (e *testEnv) item(t *testing.T, ws, id string) queue.QueueItem {
	t.Helper()
	item, err := e.store.Get(context.Background(), ws, id)
	if err != nil {
		t.Fatalf("get item %s: %v", id, err)
	}
	return item
}

// waitStatus polls until the item reaches the wanted status; the
// provider hand-off runs on its own goroutine.
func (e *testEnv) waitStatus(t *testing.T, ws, id string, want queue.Status) queue.QueueItem {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		item := e.item(t, ws, id)
		if item.Status == want {
			return item
		}
		if time.Now().After(deadline) {
			t.Fatalf("item %s stuck in %s, want %s", id, item.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunCycle_DirectDispatchesBeforeCampaign(t *testing.T) {
	e := newTestEnv(t, 1, 10)
	ctx := context.Background()
	c := e.newCampaign(t, "ws-1", nil)

	// Campaign item is older, direct item newer: the class must win, not
	// the enqueue order.
	campItem := e.enqueue(t, "ws-1", c.ID, "+15550001", queue.CallTypeCampaign)
	directItem := e.enqueue(t, "ws-1", "", "+15550002", queue.CallTypeDirect)

	if got := e.disp.RunCycle(ctx); got != 1 {
		t.Fatalf("expected 1 dispatch under system limit 1, got %d", got)
	}
	req := e.provider.waitStart(t)
	if req.To != "+15550002" {
		t.Fatalf("expected the direct number dispatched first, got %s", req.To)
	}
	if got := e.item(t, "ws-1", directItem.ID).Status; got != queue.StatusProcessing {
		t.Fatalf("direct item status = %s, want processing", got)
	}
	if got := e.item(t, "ws-1", campItem.ID).Status; got != queue.StatusQueued {
		t.Fatalf("campaign item status = %s, want queued", got)
	}
}

func TestRunCycle_CapacityDenialLeavesItemQueued(t *testing.T) {
	e := newTestEnv(t, 10, 1)
	ctx := context.Background()

	first := e.enqueue(t, "ws-1", "", "+15550001", queue.CallTypeDirect)
	second := e.enqueue(t, "ws-1", "", "+15550002", queue.CallTypeDirect)

	if got := e.disp.RunCycle(ctx); got != 1 {
		t.Fatalf("expected 1 dispatch under tenant limit 1, got %d", got)
	}
	req := e.provider.waitStart(t)
	if got := e.item(t, "ws-1", first.ID).Status; got != queue.StatusProcessing {
		t.Fatalf("first item status = %s, want processing", got)
	}
	if got := e.item(t, "ws-1", second.ID).Status; got != queue.StatusQueued {
		t.Fatalf("denied item status = %s, want queued", got)
	}

	// Releasing the slot makes the held-back item dispatchable again.
	if err := e.processor.ReportOutcome(ctx, telephony.OutcomeEvent{CallID: req.CallID, Outcome: telephony.OutcomeCompleted}); err != nil {
		t.Fatalf("report outcome: %v", err)
	}
	if got := e.disp.RunCycle(ctx); got != 1 {
		t.Fatalf("expected the denied item to dispatch after release, got %d", got)
	}
	e.provider.waitStart(t)
	if got := e.item(t, "ws-1", second.ID).Status; got != queue.StatusProcessing {
		t.Fatalf("second item status = %s, want processing", got)
	}
}

func TestRunCycle_FairnessRotatesTenantsUnderScarcity(t *testing.T) {
	e := newTestEnv(t, 1, 10)
	ctx := context.Background()

	for _, ws := range []string{"tenant-a", "tenant-b"} {
		c := e.newCampaign(t, ws, nil)
		for i := 0; i < 5; i++ {
			e.enqueue(t, ws, c.ID, "+1555000"+ws[len(ws)-1:], queue.CallTypeCampaign)
		}
	}

	var order []string
	for i := 0; i < 6; i++ {
		e.clock.Advance(time.Second)
		if got := e.disp.RunCycle(ctx); got != 1 {
			t.Fatalf("cycle %d: expected 1 dispatch, got %d", i, got)
		}
		req := e.provider.waitStart(t)
		order = append(order, req.WorkspaceID)
		if err := e.processor.ReportOutcome(ctx, telephony.OutcomeEvent{CallID: req.CallID, Outcome: telephony.OutcomeCompleted}); err != nil {
			t.Fatalf("report outcome: %v", err)
		}
	}

	// Ties break lexicographically, then the rotation strictly
	// alternates: no tenant waits more than one full rotation.
	want := []string{"tenant-a", "tenant-b", "tenant-a", "tenant-b", "tenant-a", "tenant-b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("allocation order %v, want %v", order, want)
		}
	}
}

func TestRunCycle_PausedCampaignStopsNewClaims(t *testing.T) {
	e := newTestEnv(t, 10, 10)
	ctx := context.Background()
	c := e.newCampaign(t, "ws-1", nil)
	item := e.enqueue(t, "ws-1", c.ID, "+15550001", queue.CallTypeCampaign)

	if _, err := e.campaigns.Pause(ctx, "ws-1", c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := e.disp.RunCycle(ctx); got != 0 {
		t.Fatalf("paused campaign dispatched %d items", got)
	}
	if got := e.item(t, "ws-1", item.ID).Status; got != queue.StatusQueued {
		t.Fatalf("item status = %s, want queued while paused", got)
	}

	if _, err := e.campaigns.Resume(ctx, "ws-1", c.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := e.disp.RunCycle(ctx); got != 1 {
		t.Fatalf("resumed campaign dispatched %d items, want 1", got)
	}
}

func TestRunCycle_CancelledCampaignSkipsItems(t *testing.T) {
	e := newTestEnv(t, 10, 10)
	ctx := context.Background()
	c := e.newCampaign(t, "ws-1", nil)
	item := e.enqueue(t, "ws-1", c.ID, "+15550001", queue.CallTypeCampaign)

	if _, err := e.campaigns.Cancel(ctx, "ws-1", c.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := e.disp.RunCycle(ctx); got != 0 {
		t.Fatalf("cancelled campaign dispatched %d items", got)
	}
	got := e.item(t, "ws-1", item.ID)
	if got.Status != queue.StatusSkipped {
		t.Fatalf("item status = %s, want skipped", got.Status)
	}
	if got.FailureReason != "campaign cancelled" {
		t.Fatalf("failure reason = %q", got.FailureReason)
	}
}

func TestRunCycle_CallWindowGatesDispatch(t *testing.T) {
	e := newTestEnv(t, 10, 10)
	ctx := context.Background()
	c := e.newCampaign(t, "ws-1", func(c *campaigns.Campaign) {
		c.FirstCallTime = 540  // 09:00
		c.LastCallTime = 1020 // 17:00
	})
	item := e.enqueue(t, "ws-1", c.ID, "+15550001", queue.CallTypeCampaign)

	e.clock.Set(time.Date(2025, 3, 2, 20, 0, 0, 0, time.UTC))
	if got := e.disp.RunCycle(ctx); got != 0 {
		t.Fatalf("dispatched %d items at 20:00", got)
	}

	// The last-call boundary is exclusive.
	e.clock.Set(time.Date(2025, 3, 2, 17, 0, 0, 0, time.UTC))
	if got := e.disp.RunCycle(ctx); got != 0 {
		t.Fatalf("dispatched %d items at 17:00 sharp", got)
	}
	if got := e.item(t, "ws-1", item.ID).Status; got != queue.StatusQueued {
		t.Fatalf("item status = %s, want queued outside the window", got)
	}

	e.clock.Set(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	if got := e.disp.RunCycle(ctx); got != 1 {
		t.Fatalf("dispatched %d items at 09:00, want 1", got)
	}
}

func TestRunCycle_ProviderRejectionFailsItemAndFreesSlot(t *testing.T) {
	e := newTestEnv(t, 10, 10)
	ctx := context.Background()
	e.provider.failWith(errors.New("invalid number"))

	item := e.enqueue(t, "ws-1", "", "+0", queue.CallTypeDirect)
	if got := e.disp.RunCycle(ctx); got != 1 {
		t.Fatalf("expected claim before provider rejection, got %d", got)
	}
	e.provider.waitStart(t)

	got := e.waitStatus(t, "ws-1", item.ID, queue.StatusFailed)
	if got.FailureReason == "" {
		t.Fatal("expected a failure reason on provider rejection")
	}
	snap, err := e.gate.SystemSnapshot(ctx)
	if err != nil {
		t.Fatalf("system snapshot: %v", err)
	}
	if snap.TotalActive != 0 {
		t.Fatalf("lease leaked after provider rejection: %d active", snap.TotalActive)
	}
}
