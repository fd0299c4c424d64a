package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/capacity"
	"dialer-platform/internal/config"
	"dialer-platform/internal/dispatch"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Stores.
	queueStore := queue.NewPostgresStore(db)
	campaignRepo := campaigns.NewPostgresRepo(db)
	leaseStore := capacity.NewPostgresLeaseStore(db)
	limitStore := capacity.NewPostgresLimitStore(db)

	// Services.
	campaignSvc := campaigns.NewService(campaignRepo)
	queueSvc := queue.NewService(queueStore)
	// TODO: back audit with the audit_events table instead of memory.
	auditSvc := audit.NewService(audit.NewMemoryRepo())

	gate := capacity.NewGatekeeper(leaseStore, limitStore, capacity.GatekeeperConfig{
		SystemLimit:        cfg.Dispatch.SystemLimit,
		DefaultTenantLimit: cfg.Dispatch.DefaultTenantLimit,
		Redis:              rdb,
	}, log)

	provider, err := telephony.NewTwilioProvider(telephony.TwilioProviderConfig{
		AccountSID:        cfg.Twilio.AccountSID,
		AuthToken:         cfg.Twilio.AuthToken,
		StatusCallbackURL: cfg.Twilio.PublicBaseURL + "/webhooks/telephony/voice/status",
	})
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	processor := dispatch.NewProcessor(queueStore, queueSvc, campaignSvc, gate, log)

	dispatcher := dispatch.NewDispatcher(queueStore, campaignSvc, gate, provider, processor, dispatch.DispatcherConfig{
		CallerID:      cfg.Twilio.CallerID,
		Interval:      cfg.Dispatch.PollInterval,
		RatePerTenant: cfg.Dispatch.RatePerTenant,
	}, log)

	// Wake-up plumbing: enqueues and freed capacity shortcut the poll
	// cadence, and the Redis bus fans enqueues out to other instances.
	bus := dispatch.NewWakeBus(rdb, "", log)
	queueSvc.OnEnqueue(func() {
		dispatcher.Notify()
		bus.Publish(rootCtx)
	})
	gate.OnRelease(dispatcher.Notify)
	go bus.Listen(rootCtx, dispatcher.Notify)

	go dispatcher.Run(rootCtx)

	// Reconciliation sweep for leaked leases.
	sweeper := capacity.NewSweeper(leaseStore, gate, cfg.Dispatch.LeaseMaxAge, log)
	sweeper.OnReclaim(func(ctx context.Context, lease capacity.Lease) {
		processor.ReclaimLease(ctx, lease)
		if err := auditSvc.LogLeaseReclaim(ctx, lease.WorkspaceID, lease.CallID, lease.QueueItemID); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	})
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Dispatch.ReconcileCron, func() {
		if _, err := sweeper.Sweep(rootCtx); err != nil {
			log.Error("reconciliation sweep failed", "err", err)
		}
	}); err != nil {
		log.Error("reconcile schedule invalid", "cron", cfg.Dispatch.ReconcileCron, "err", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:      authManager,
		Queue:     queueSvc,
		Campaigns: campaignSvc,
		Gate:      gate,
		Processor: processor,
		Audit:     auditSvc,
		Log:       log,
	}
	registerRoutes(r, auth.RequireAccessToken(authManager), h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
