package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/capacity"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/telephony"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Dispatcher is the orchestrating loop: for each tenant with queued
// work it claims the next eligible item and hands it to the telephony
// provider.
//
// Safety: the queue store's Claim CAS is the sole dispatch-ownership
// gate, so any number of Dispatcher instances may run concurrently.
// Capacity denials and claim conflicts are normal flow, not errors, and
// never block progress for other tenants.
type Dispatcher struct {
	store     queue.Store
	campaigns *campaigns.Service
	gate      *capacity.Gatekeeper
	provider  telephony.Provider
	processor *Processor
	allocator *Allocator

	callerID  string
	interval  time.Duration
	scanLimit int

	ratePerTenant rate.Limit
	rateBurst     int
	limMu         sync.Mutex
	limiters      map[string]*rate.Limiter

	notify chan struct{}
	clock  func() time.Time
	log    *slog.Logger
}

type DispatcherConfig struct {
	// CallerID is the outbound caller-id presented by dispatched calls.
	CallerID string

	// Interval is the scan cadence; wake-up notifications shortcut it.
	Interval time.Duration

	// ScanLimit bounds how many candidates are examined per tenant per
	// selection.
	ScanLimit int

	// RatePerTenant caps dispatches per second per tenant; zero disables
	// pacing.
	RatePerTenant float64
	RateBurst     int
}

func NewDispatcher(store queue.Store, camps *campaigns.Service, gate *capacity.Gatekeeper, provider telephony.Provider, processor *Processor, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	scanLimit := cfg.ScanLimit
	if scanLimit <= 0 {
		scanLimit = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		store:         store,
		campaigns:     camps,
		gate:          gate,
		provider:      provider,
		processor:     processor,
		allocator:     NewAllocator(),
		callerID:      cfg.CallerID,
		interval:      interval,
		scanLimit:     scanLimit,
		ratePerTenant: rate.Limit(cfg.RatePerTenant),
		rateBurst:     burst,
		limiters:      make(map[string]*rate.Limiter),
		notify:        make(chan struct{}, 1),
		clock:         time.Now,
		log:           log,
	}
}

// Notify wakes the loop ahead of its cadence (new enqueue, capacity
// freed, campaign resumed). Non-blocking; redundant wake-ups coalesce.
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Run scans until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.notify:
		}
		d.RunCycle(ctx)
	}
}

type dispatchResult int

const (
	dispatchOK dispatchResult = iota
	dispatchDenied
	dispatchConflict
)

// RunCycle performs one full scan and returns how many calls were
// dispatched. Direct items drain first for every tenant; campaign slots
// are then rotated across tenants by the fairness allocator.
func (d *Dispatcher) RunCycle(ctx context.Context) int {
	now := d.clock().UTC()
	tenants, err := d.store.TenantsWithQueued(ctx, now)
	if err != nil {
		d.log.Error("tenant scan failed", "err", err)
		return 0
	}

	dispatched := 0

	// Phase 1: direct calls, per tenant, until the tenant runs out of
	// items or capacity. Direct bypasses the fairness allocator.
	for _, ws := range tenants {
		for {
			if !d.allow(ws) {
				break
			}
			res, ok := d.dispatchDirect(ctx, ws, now)
			if !ok {
				break
			}
			if res == dispatchOK {
				dispatched++
				continue
			}
			if res == dispatchDenied {
				break
			}
			// Conflict: another worker won that item; re-scan.
		}
	}

	// Phase 2: campaign calls, rotated across tenants.
	remaining := make(map[string]struct{}, len(tenants))
	for _, ws := range tenants {
		remaining[ws] = struct{}{}
	}
	for len(remaining) > 0 {
		candidates := make(map[string]queue.QueueItem)
		var eligible []string
		for ws := range remaining {
			item, ok := d.nextCampaignCandidate(ctx, ws, now)
			if !ok {
				delete(remaining, ws)
				continue
			}
			candidates[ws] = item
			eligible = append(eligible, ws)
		}

		ws, ok := d.allocator.PickTenant(eligible)
		if !ok {
			break
		}
		if !d.allow(ws) {
			delete(remaining, ws)
			continue
		}
		switch d.dispatchItem(ctx, ws, candidates[ws], now) {
		case dispatchOK:
			d.allocator.Stamp(ws, now)
			dispatched++
		case dispatchDenied:
			delete(remaining, ws)
		case dispatchConflict:
			// Re-evaluate candidates next rotation.
		}
	}

	return dispatched
}

// dispatchDirect claims and dispatches the tenant's next direct item.
// ok=false means no eligible direct item exists.
func (d *Dispatcher) dispatchDirect(ctx context.Context, ws string, now time.Time) (dispatchResult, bool) {
	items, err := d.store.ListEligible(ctx, ws, queue.CallTypeDirect, now, 1)
	if err != nil {
		d.log.Error("direct scan failed", "workspace_id", ws, "err", err)
		return dispatchConflict, false
	}
	if len(items) == 0 {
		return dispatchConflict, false
	}
	return d.dispatchItem(ctx, ws, items[0], now), true
}

// nextCampaignCandidate returns the tenant's best eligible campaign
// item whose campaign is currently dispatchable. Items of terminal
// campaigns are resolved as skipped on the way.
func (d *Dispatcher) nextCampaignCandidate(ctx context.Context, ws string, now time.Time) (queue.QueueItem, bool) {
	items, err := d.store.ListEligible(ctx, ws, queue.CallTypeCampaign, now, d.scanLimit)
	if err != nil {
		d.log.Error("campaign scan failed", "workspace_id", ws, "err", err)
		return queue.QueueItem{}, false
	}
	for _, item := range items {
		ok, err := d.campaigns.IsDispatchable(ctx, ws, item.CampaignID, now)
		if err != nil {
			d.log.Error("campaign check failed", "workspace_id", ws, "campaign_id", item.CampaignID, "err", err)
			continue
		}
		if ok {
			return item, true
		}
		// A terminal campaign never re-opens; its queued items resolve
		// as skipped. Paused campaigns and closed windows leave items
		// queued for later.
		c, err := d.campaigns.Get(ctx, ws, item.CampaignID)
		if err == nil && c.Status.IsTerminal() {
			if _, err := d.store.MarkTerminal(ctx, ws, item.ID, queue.StatusSkipped, "", "campaign "+string(c.Status), now); err != nil {
				d.log.Error("skip mark failed", "item_id", item.ID, "err", err)
			}
		}
	}
	return queue.QueueItem{}, false
}

// dispatchItem runs the claim protocol for one chosen item:
// acquire slot -> CAS claim -> hand off to the provider.
func (d *Dispatcher) dispatchItem(ctx context.Context, ws string, item queue.QueueItem, now time.Time) dispatchResult {
	callID := uuid.NewString()

	lease, ok, err := d.gate.TryAcquire(ctx, ws, item.CallType, callID, item.ID)
	if err != nil {
		d.log.Error("slot acquire failed", "workspace_id", ws, "err", err)
		return dispatchDenied
	}
	if !ok {
		// Capacity denial: the item stays queued and is retried when
		// capacity frees; no backoff needed.
		return dispatchDenied
	}

	claimed, err := d.store.Claim(ctx, ws, item.ID, now)
	if err != nil || !claimed {
		if _, _, relErr := d.gate.Release(ctx, callID); relErr != nil {
			d.log.Error("lease rollback failed", "call_id", callID, "err", relErr)
		}
		if err != nil {
			d.log.Error("claim failed", "item_id", item.ID, "err", err)
			return dispatchDenied
		}
		// Another worker won the item (or it was cancelled). Abandon
		// and re-evaluate; never double-dispatch.
		return dispatchConflict
	}

	if err := d.store.AttachCall(ctx, ws, item.ID, callID, now); err != nil {
		d.log.Error("call attach failed", "item_id", item.ID, "err", err)
	}

	// Hand off: the loop never waits for call completion. The outcome
	// arrives later through the status webhook.
	go d.startCall(lease, item)

	d.log.Info("call dispatched",
		"workspace_id", ws,
		"call_id", callID,
		"item_id", item.ID,
		"call_type", item.CallType,
		"number", item.Number,
	)
	return dispatchOK
}

func (d *Dispatcher) startCall(lease capacity.Lease, item queue.QueueItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := d.provider.StartCall(ctx, telephony.StartCallRequest{
		WorkspaceID: item.WorkspaceID,
		CallID:      lease.CallID,
		To:          item.Number,
		From:        d.callerID,
		AgentID:     item.AgentID,
		ContactName: item.ContactName,
	})
	if err != nil {
		d.log.Warn("provider dispatch rejected", "call_id", lease.CallID, "err", err)
		if failErr := d.processor.FailDispatch(ctx, lease, "provider dispatch failed: "+err.Error()); failErr != nil {
			d.log.Error("dispatch failure resolution failed", "call_id", lease.CallID, "err", failErr)
		}
		return
	}
	if err := d.gate.AttachProvider(ctx, lease.CallID, res.ProviderCallID); err != nil {
		d.log.Warn("provider ref attach failed", "call_id", lease.CallID, "err", err)
	}
}

func (d *Dispatcher) allow(ws string) bool {
	if d.ratePerTenant <= 0 {
		return true
	}
	d.limMu.Lock()
	lim, ok := d.limiters[ws]
	if !ok {
		lim = rate.NewLimiter(d.ratePerTenant, d.rateBurst)
		d.limiters[ws] = lim
	}
	d.limMu.Unlock()
	return lim.Allow()
}
