package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/Stellar-cadet-s/kazi-trust/internal/auth"
	"github.com/Stellar-cadet-s/kazi-trust/internal/config"
	"github.com/Stellar-cadet-s/kazi-trust/internal/dashboard"
	"github.com/Stellar-cadet-s/kazi-trust/internal/escrow"
	"github.com/Stellar-cadet-s/kazi-trust/internal/jobs"
	"github.com/Stellar-cadet-s/kazi-trust/internal/ledger"
	"github.com/Stellar-cadet-s/kazi-trust/internal/metrics"
	"github.com/Stellar-cadet-s/kazi-trust/internal/payout"
	"github.com/Stellar-cadet-s/kazi-trust/internal/repository"
	"github.com/Stellar-cadet-s/kazi-trust/internal/router"
	"github.com/Stellar-cadet-s/kazi-trust/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := repository.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	m := metrics.New()

	userRepo := repository.NewUserRepo(pool)
	jobRepo := repository.NewJobRepo(pool)
	escrowRepo := repository.NewEscrowRepo(pool)

	// Ledger
	var lc ledger.Client
	switch cfg.LedgerMode {
	case config.LedgerModeLocal:
		lc = ledger.NewLocalLedger(pool)
		slog.Info("Using local Postgres ledger")
	default:
		lc = ledger.NewHTTPClient(cfg.LedgerServiceURL, cfg.LedgerAPIKey, cfg.LedgerTimeout, logger)
		slog.Info("Using contract service ledger", "url", cfg.LedgerServiceURL)
	}

	// Payouts: enqueue func is set after River client is created (breaks init cycle)
	payoutClient := payout.NewIntersendClient(cfg.PayoutAPIURL, cfg.PayoutAPIKey, cfg.PayoutAPISecret, cfg.PayoutCurrency, cfg.PayoutTimeout, logger)
	var enqueueMu sync.Mutex
	var enqueueFn payout.EnqueueFunc
	enqueueStatusCheck := func(ctx context.Context, args payout.CheckStatusArgs) error {
		enqueueMu.Lock()
		fn := enqueueFn
		enqueueMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, args)
	}
	dispatcher := payout.NewDispatcher(payoutClient, escrowRepo, enqueueStatusCheck, m, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, payout.NewSendWorker(escrowRepo, dispatcher))
	river.AddWorker(workers, payout.NewStatusWorker(escrowRepo, payoutClient, m, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.PayoutWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	enqueueMu.Lock()
	enqueueFn = func(ctx context.Context, args payout.CheckStatusArgs) error {
		_, err := riverClient.Insert(ctx, args, &river.InsertOpts{ScheduledAt: time.Now().Add(payout.DefaultPollInterval)})
		return err
	}
	enqueueMu.Unlock()

	// Escrow core: the payout send job commits with the release
	enqueuePayout := func(ctx context.Context, tx pgx.Tx, payoutID uuid.UUID) error {
		_, err := riverClient.InsertTx(ctx, tx, payout.SendArgs{PayoutID: payoutID}, nil)
		return err
	}
	machine := escrow.NewMachine(pool, escrowRepo, jobRepo, userRepo, lc, dispatcher, escrow.Options{
		Asset:             cfg.LedgerAsset,
		SettlementAccount: cfg.LedgerSettlementAccount,
		EnqueuePayout:     enqueuePayout,
		Metrics:           m,
		Logger:            logger,
	})
	reconciler := escrow.NewReconciler(machine, cfg.DepositAllowJobIDRef, logger)

	// Auth, jobs, dashboard
	authSvc := auth.NewService(userRepo, cfg.JWTSecret, cfg.AdminEmails)
	authHandler := auth.NewHandler(authSvc, logger)
	jobsSvc := jobs.NewService(pool, jobRepo, userRepo, machine, logger)
	jobsHandler := jobs.NewHandler(jobsSvc, logger)
	dashHandler := dashboard.NewHandler(dashboardStore{userRepo, escrowRepo}, logger)

	webhookHandler, err := webhook.NewHandler(reconciler, cfg.LedgerAsset, m, logger)
	if err != nil {
		slog.Error("Failed to load webhook schemas", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", router.New(authHandler, jobsHandler, dashHandler, authSvc))
	RegisterWebhookRoutes(mux, webhookHandler, cfg)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes payout status checks)
	riverCtx, stopRiver := context.WithCancel(context.Background())
	defer stopRiver()
	if err := riverClient.Start(riverCtx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River stop failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr, "ledger_mode", cfg.LedgerMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
