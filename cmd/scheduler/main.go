// Package main is the entry point for the shadowpulse schedule firer.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Good-Security/shadowpulse/internal/audit"
	"github.com/Good-Security/shadowpulse/internal/config"
	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/repository"
	"github.com/Good-Security/shadowpulse/internal/scheduler"
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

	logger.Info("Starting shadowpulse scheduler",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("poll_seconds", cfg.Scheduler.PollSeconds),
	)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	pool := db.Pool()

	scheduleRepo := repository.NewScheduleRepository(pool)
	runRepo := repository.NewRunRepository(pool)
	jobRepo := repository.NewJobRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	auditLog := audit.NewLogger(eventRepo, pool, logger)

	s := scheduler.New(pool, scheduleRepo, runRepo, jobRepo, auditLog,
		time.Duration(cfg.Scheduler.PollSeconds)*time.Second, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Scheduler error: %v", err)
	}

	logger.Info("Scheduler stopped gracefully")
}
