// Package main is the entry point for the shadowpulse job worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Good-Security/shadowpulse/internal/audit"
	"github.com/Good-Security/shadowpulse/internal/config"
	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/dnsx"
	"github.com/Good-Security/shadowpulse/internal/pipeline"
	"github.com/Good-Security/shadowpulse/internal/repository"
	"github.com/Good-Security/shadowpulse/internal/retention"
	"github.com/Good-Security/shadowpulse/internal/verify"
	"github.com/Good-Security/shadowpulse/internal/worker"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	workerID := cfg.Worker.WorkerID
	if workerID == "" {
		// Stable for the life of the process, unique across restarts.
		workerID = fmt.Sprintf("worker-%d-%s", os.Getpid(), uuid.NewString()[:8])
	}

	logger.Info("Starting shadowpulse worker",
		slog.String("worker_id", workerID),
		slog.String("environment", cfg.Server.Environment),
	)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	pool := db.Pool()

	targetRepo := repository.NewTargetRepository(pool)
	runRepo := repository.NewRunRepository(pool)
	jobRepo := repository.NewJobRepository(pool)
	scanRepo := repository.NewScanRepository(pool)
	findingRepo := repository.NewFindingRepository(pool)
	inventoryRepo := repository.NewInventoryRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	auditLog := audit.NewLogger(eventRepo, pool, logger)
	resolver := dnsx.New()

	engine := pipeline.NewEngine(
		pool,
		targetRepo,
		runRepo,
		jobRepo,
		scanRepo,
		findingRepo,
		inventoryRepo,
		auditLog,
		newRegistry(),
		resolver,
		pipeline.DefaultVerifyPolicy(),
		logger,
	)

	verifier := verify.NewVerifier(pool, inventoryRepo, scanRepo, resolver, logger)
	sweeper := retention.NewSweeper(pool, scanRepo, cfg.Retention, logger)

	w := worker.New(pool, jobRepo, runRepo, engine, verifier, sweeper, auditLog, worker.Config{
		WorkerID:     workerID,
		PollInterval: time.Duration(cfg.Worker.PollSeconds) * time.Second,
		Limits: repository.ClaimLimits{
			Global:    cfg.Worker.MaxConcurrentJobsGlobal,
			PerTarget: cfg.Worker.MaxConcurrentJobsPerTarget,
		},
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Worker error: %v", err)
	}

	logger.Info("Worker stopped gracefully")
}
