package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/capacity"
	"dialer-platform/internal/dispatch"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Queue     *queue.Service
	Campaigns *campaigns.Service
	Gate      *capacity.Gatekeeper
	Processor *dispatch.Processor
	Audit     *audit.Service
	Log       *slog.Logger
}

func (h Handlers) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, campaigns.ErrNotFound), errors.Is(err, queue.ErrNotFound), errors.Is(err, capacity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaigns.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, campaigns.ErrInvalidArgument), errors.Is(err, queue.ErrInvalidArgument), errors.Is(err, capacity.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortErr(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func identity(c *gin.Context) (workspaceID, userID, role string, ok bool) {
	ctx := c.Request.Context()
	workspaceID, err := auth.WorkspaceID(ctx)
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return "", "", "", false
	}
	userID, _ = auth.UserID(ctx)
	role, _ = auth.Role(ctx)
	return workspaceID, userID, role, true
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Direct calls ---

type directCallRequest struct {
	ContactID   string `json:"contact_id"`
	ContactName string `json:"contact_name,omitempty"`
	Number      string `json:"number"`
}

// StartDirectCall queues a user-initiated dial. The item dispatches
// ahead of any campaign item for the same tenant; actual dial timing
// still depends on concurrency capacity.
func (h Handlers) StartDirectCall(c *gin.Context) {
	workspaceID, userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req directCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Number == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}
	item, err := h.Queue.EnqueueDirect(c.Request.Context(), workspaceID, userID, req.ContactID, req.ContactName, req.Number)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, item)
}

// --- Campaigns ---

type retryStepRequest struct {
	AttemptNumber int `json:"attempt_number"`
	DelayMinutes  int `json:"delay_minutes"`
}

type createCampaignRequest struct {
	Name          string `json:"name"`
	FirstCallTime string `json:"first_call_time"` // "HH:MM"
	LastCallTime  string `json:"last_call_time"`  // "HH:MM"
	StartDate     string `json:"start_date"`      // "2006-01-02"
	EndDate       string `json:"end_date,omitempty"`

	RetryStrategy        string             `json:"retry_strategy"`
	MaxRetries           int                `json:"max_retries"`
	RetryIntervalMinutes int                `json:"retry_interval_minutes,omitempty"`
	RetrySchedule        []retryStepRequest `json:"retry_schedule,omitempty"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	workspaceID, userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	first, err := campaigns.ParseMinuteOfDay(req.FirstCallTime)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "first_call_time: " + err.Error()})
		return
	}
	last, err := campaigns.ParseMinuteOfDay(req.LastCallTime)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "last_call_time: " + err.Error()})
		return
	}
	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
		return
	}
	var endDate *time.Time
	if req.EndDate != "" {
		d, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return
		}
		endDate = &d
	}

	schedule := make([]campaigns.RetryStep, 0, len(req.RetrySchedule))
	for _, s := range req.RetrySchedule {
		schedule = append(schedule, campaigns.RetryStep{AttemptNumber: s.AttemptNumber, DelayMinutes: s.DelayMinutes})
	}

	out, err := h.Campaigns.Create(c.Request.Context(), campaigns.Campaign{
		WorkspaceID:          workspaceID,
		AgentID:              userID,
		Name:                 req.Name,
		FirstCallTime:        first,
		LastCallTime:         last,
		StartDate:            startDate,
		EndDate:              endDate,
		RetryStrategy:        campaigns.RetryStrategy(req.RetryStrategy),
		MaxRetries:           req.MaxRetries,
		RetryIntervalMinutes: req.RetryIntervalMinutes,
		RetrySchedule:        schedule,
	})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h Handlers) GetCampaign(c *gin.Context) {
	workspaceID, _, _, ok := identity(c)
	if !ok {
		return
	}
	out, err := h.Campaigns.Get(c.Request.Context(), workspaceID, c.Param("campaign_id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type enqueueContactsRequest struct {
	Contacts []queue.Contact `json:"contacts"`
}

// EnqueueCampaignContacts queues one item per contact and grows the
// campaign's contact total accordingly.
func (h Handlers) EnqueueCampaignContacts(c *gin.Context) {
	workspaceID, userID, _, ok := identity(c)
	if !ok {
		return
	}
	campaignID := c.Param("campaign_id")
	var req enqueueContactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Contacts) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contacts required"})
		return
	}

	// Growing the contact total first also rejects terminal campaigns
	// before any item is written.
	if _, err := h.Campaigns.AddContacts(c.Request.Context(), workspaceID, campaignID, len(req.Contacts)); err != nil {
		abortErr(c, err)
		return
	}
	n, err := h.Queue.EnqueueCampaignBatch(c.Request.Context(), workspaceID, campaignID, userID, req.Contacts)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": n})
}

// campaignControl factors the shared shape of pause/resume/cancel.
func (h Handlers) campaignControl(c *gin.Context, action string, apply func(ctx *gin.Context, workspaceID, campaignID string) (campaigns.Campaign, error)) {
	workspaceID, userID, role, ok := identity(c)
	if !ok {
		return
	}
	campaignID := c.Param("campaign_id")
	out, err := apply(c, workspaceID, campaignID)
	if err != nil {
		abortErr(c, err)
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogCampaignControl(c.Request.Context(), workspaceID, userID, role, c.ClientIP(), campaignID, action); err != nil {
			h.logger().Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) PauseCampaign(c *gin.Context) {
	h.campaignControl(c, "paused", func(ctx *gin.Context, ws, id string) (campaigns.Campaign, error) {
		return h.Campaigns.Pause(ctx.Request.Context(), ws, id)
	})
}

func (h Handlers) ResumeCampaign(c *gin.Context) {
	h.campaignControl(c, "resumed", func(ctx *gin.Context, ws, id string) (campaigns.Campaign, error) {
		return h.Campaigns.Resume(ctx.Request.Context(), ws, id)
	})
}

func (h Handlers) CancelCampaign(c *gin.Context) {
	h.campaignControl(c, "cancelled", func(ctx *gin.Context, ws, id string) (campaigns.Campaign, error) {
		return h.Campaigns.Cancel(ctx.Request.Context(), ws, id)
	})
}

// --- Concurrency administration ---

type setLimitRequest struct {
	Limit int `json:"limit"`
}

// SetTenantConcurrencyLimit updates a tenant's ceiling. The target
// tenant comes from the path, not the token: super admins administer
// limits across workspaces.
func (h Handlers) SetTenantConcurrencyLimit(c *gin.Context) {
	_, userID, role, ok := identity(c)
	if !ok {
		return
	}
	target := c.Param("workspace_id")
	var req setLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Gate.SetTenantLimit(c.Request.Context(), target, req.Limit); err != nil {
		abortErr(c, err)
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogLimitChange(c.Request.Context(), target, userID, role, c.ClientIP(), "concurrency limit set"); err != nil {
			h.logger().Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"workspace_id": target, "limit": req.Limit})
}

// TenantDispatchSnapshot reports the caller's current capacity usage.
func (h Handlers) TenantDispatchSnapshot(c *gin.Context) {
	workspaceID, _, _, ok := identity(c)
	if !ok {
		return
	}
	snap, err := h.Gate.TenantSnapshot(c.Request.Context(), workspaceID)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// SystemDispatchSnapshot reports system-wide capacity usage.
// RBAC: owner or super_admin.
func (h Handlers) SystemDispatchSnapshot(c *gin.Context) {
	snap, err := h.Gate.SystemSnapshot(c.Request.Context())
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// --- Provider webhooks ---

// TwilioVoiceStatus receives Twilio's call status callbacks. Our call id
// travels in the callback URL query; non-terminal statuses are ignored.
//
// Always answer 2xx on handled input: Twilio retries non-2xx responses,
// and our outcome pipeline is idempotent anyway.
func (h Handlers) TwilioVoiceStatus(c *gin.Context) {
	callID := c.Query("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	form, err := telephony.ParseTwilioStatus(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	ev, ok := form.ToOutcomeEvent(callID, time.Now().UTC())
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	if err := h.Processor.ReportOutcome(c.Request.Context(), ev); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
