package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/irisblue-leo/denexus-sub000/internal/admission"
	"github.com/irisblue-leo/denexus-sub000/internal/auth"
	"github.com/irisblue-leo/denexus-sub000/internal/config"
	"github.com/irisblue-leo/denexus-sub000/internal/dashboard"
	"github.com/irisblue-leo/denexus-sub000/internal/execution"
	"github.com/irisblue-leo/denexus-sub000/internal/ingest"
	"github.com/irisblue-leo/denexus-sub000/internal/ledger"
	"github.com/irisblue-leo/denexus-sub000/internal/orchestrator"
	"github.com/irisblue-leo/denexus-sub000/internal/payment"
	"github.com/irisblue-leo/denexus-sub000/internal/policy"
	"github.com/irisblue-leo/denexus-sub000/internal/provider"
	"github.com/irisblue-leo/denexus-sub000/internal/repository"
	"github.com/irisblue-leo/denexus-sub000/internal/router"
	"github.com/irisblue-leo/denexus-sub000/internal/storage"
)

// orderExpiryInterval is how often pending orders past their payment window
// are swept.
const orderExpiryInterval = 5 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	creditTxRepo := repository.NewCreditTxRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	assetRepo := repository.NewAssetRepo(pool)
	orderRepo := repository.NewOrderRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)

	// Ledger & admission
	ledgerSvc := ledger.NewService(userRepo, creditTxRepo, pool)
	admitter := admission.NewController(taskRepo, cfg.MaxConcurrentTasks)

	// Provider bindings
	registry := provider.NewRegistry(
		provider.NewClipAdapter(cfg.Clip),
		provider.NewFilmAdapter(cfg.Film),
		provider.NewImageAdapter(cfg.Image),
		provider.NewRestyleAdapter(cfg.Restyle),
		provider.NewDescribeAdapter(cfg.Describe),
	)

	validator, err := orchestrator.NewValidator()
	if err != nil {
		slog.Error("Failed to compile input schemas", "error", err)
		os.Exit(1)
	}

	// Asset storage & ingest
	store, err := storage.NewS3Store(cfg.S3)
	if err != nil {
		slog.Error("Failed to init S3 storage", "error", err)
		os.Exit(1)
	}
	ingestor := ingest.NewIngestor(store, assetRepo, logger)

	classifier := policy.NewClassifier(cfg.PolicyMarkers)

	// Orchestrator: insert func is set after the River client is created
	// (breaks the init cycle).
	var insertMu sync.Mutex
	var insertFn orchestrator.InsertGenerateTxFunc
	insertGenerate := func(ctx context.Context, tx pgx.Tx, args execution.GenerateJobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	orch := orchestrator.NewService(
		pool, taskRepo, userRepo, ledgerSvc, admitter, registry,
		validator, ingestor, classifier, insertGenerate, logger,
	)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGenerateWorker(orch))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args execution.GenerateJobArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Payments
	paySvc := payment.NewService(pool, orderRepo, ledgerSvc, logger)

	// Auth & dashboard
	authSvc := auth.NewService(pool, userRepo, apiKeyRepo, ledgerSvc, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)
	dashHandler := dashboard.NewHandler(authSvc, userRepo, creditTxRepo, taskRepo, apiKeyRepo, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", router.New(authHandler, dashHandler))
	RegisterV1Routes(mux, orch, paySvc, ingestor, userRepo, creditTxRepo, assetRepo, apiKeyRepo, cfg.PaymentWebhookSecret, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Signature"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes generation jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	// Periodic order expiry sweep
	go func() {
		ticker := time.NewTicker(orderExpiryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-riverCtx.Done():
				return
			case <-ticker.C:
				if err := paySvc.ExpireStale(riverCtx); err != nil {
					slog.Error("order expiry sweep failed", "error", err)
				}
			}
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
