package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/capacity"
	"dialer-platform/internal/dispatch"
	"dialer-platform/internal/queue"

	"github.com/gin-gonic/gin"
)

type testDeps struct {
	store     *queue.MemoryStore
	queueSvc  *queue.Service
	campaigns *campaigns.Service
	gate      *capacity.Gatekeeper
	processor *dispatch.Processor
	handlers  Handlers
}

func newTestDeps() testDeps {
	store := queue.NewMemoryStore()
	queueSvc := queue.NewService(store)
	camps := campaigns.NewService(campaigns.NewMemoryRepo())
	gate := capacity.NewGatekeeper(capacity.NewMemoryLeaseStore(), capacity.NewMemoryLimitStore(), capacity.GatekeeperConfig{
		SystemLimit:        10,
		DefaultTenantLimit: 10,
	}, nil)
	processor := dispatch.NewProcessor(store, queueSvc, camps, gate, nil)
	return testDeps{
		store:     store,
		queueSvc:  queueSvc,
		campaigns: camps,
		gate:      gate,
		processor: processor,
		handlers: Handlers{
			Queue:     queueSvc,
			Campaigns: camps,
			Gate:      gate,
			Processor: processor,
			Audit:     audit.NewService(audit.NewMemoryRepo()),
		},
	}
}

func identityMW(userID, workspaceID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, workspaceID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func TestStartDirectCall_Enqueues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := newTestDeps()

	r := gin.New()
	r.POST("/calls/direct", identityMW("agent-1", "ws-1", "agent"), d.handlers.StartDirectCall)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/calls/direct", strings.NewReader(`{"contact_id":"ct-1","number":"+15550001"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	items, err := d.store.ListEligible(context.Background(), "ws-1", queue.CallTypeDirect, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Number != "+15550001" {
		t.Fatalf("expected 1 queued direct item, got %+v", items)
	}
}

func TestStartDirectCall_RequiresNumber(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := newTestDeps()

	r := gin.New()
	r.POST("/calls/direct", identityMW("agent-1", "ws-1", "agent"), d.handlers.StartDirectCall)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/calls/direct", strings.NewReader(`{"contact_id":"ct-1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateCampaign_ParsesWindowAndDates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := newTestDeps()

	r := gin.New()
	r.POST("/campaigns", identityMW("owner-1", "ws-1", "owner"), d.handlers.CreateCampaign)

	body := `{
		"name": "spring outreach",
		"first_call_time": "09:00",
		"last_call_time": "17:00",
		"start_date": "2025-03-01",
		"retry_strategy": "simple",
		"max_retries": 2,
		"retry_interval_minutes": 30
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/campaigns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"first_call_time":540`) {
		t.Fatalf("expected first_call_time 540 in response, got %s", w.Body.String())
	}
}

func TestCreateCampaign_RejectsBadWindow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := newTestDeps()

	r := gin.New()
	r.POST("/campaigns", identityMW("owner-1", "ws-1", "owner"), d.handlers.CreateCampaign)

	body := `{"first_call_time":"25:00","last_call_time":"17:00","start_date":"2025-03-01","retry_strategy":"simple"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/campaigns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSetTenantConcurrencyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := newTestDeps()

	r := gin.New()
	r.PUT("/admin/tenants/:workspace_id/concurrency-limit", identityMW("root", "ws-admin", "super_admin"), d.handlers.SetTenantConcurrencyLimit)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/admin/tenants/ws-9/concurrency-limit", strings.NewReader(`{"limit":7}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	limit, err := d.gate.TenantLimit(context.Background(), "ws-9")
	if err != nil || limit != 7 {
		t.Fatalf("limit = %d, err = %v, want 7", limit, err)
	}
}

func TestTwilioVoiceStatus_ResolvesDispatchedCall(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := newTestDeps()
	ctx := context.Background()
	now := time.Now().UTC()

	item, err := d.store.Enqueue(ctx, queue.QueueItem{
		ID: "item-1", WorkspaceID: "ws-1", Number: "+15550001",
		CallType: queue.CallTypeDirect, ScheduledFor: now,
		Status: queue.StatusQueued, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if ok, err := d.store.Claim(ctx, "ws-1", item.ID, now); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if _, ok, err := d.gate.TryAcquire(ctx, "ws-1", queue.CallTypeDirect, "call-1", item.ID); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	r := gin.New()
	r.POST("/webhooks/telephony/voice/status", d.handlers.TwilioVoiceStatus)

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "completed")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony/voice/status?call_id=call-1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	got, err := d.store.Get(ctx, "ws-1", item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusCompleted {
		t.Fatalf("item status = %s, want completed", got.Status)
	}
}

func TestTwilioVoiceStatus_IgnoresNonTerminal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := newTestDeps()

	r := gin.New()
	r.POST("/webhooks/telephony/voice/status", d.handlers.TwilioVoiceStatus)

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "ringing")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony/voice/status?call_id=call-1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for ignored status, got %d", w.Code)
	}
}

func TestTwilioVoiceStatus_RequiresCallID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := newTestDeps()

	r := gin.New()
	r.POST("/webhooks/telephony/voice/status", d.handlers.TwilioVoiceStatus)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony/voice/status", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
