// Package main is the entry point for the shadowpulse API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Good-Security/shadowpulse/internal/audit"
	"github.com/Good-Security/shadowpulse/internal/config"
	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/handler"
	"github.com/Good-Security/shadowpulse/internal/middleware"
	"github.com/Good-Security/shadowpulse/internal/pkg/response"
	"github.com/Good-Security/shadowpulse/internal/recovery"
	"github.com/Good-Security/shadowpulse/internal/repository"
	"github.com/Good-Security/shadowpulse/internal/service"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting shadowpulse API",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	pool := db.Pool()

	// Repositories
	targetRepo := repository.NewTargetRepository(pool)
	runRepo := repository.NewRunRepository(pool)
	jobRepo := repository.NewJobRepository(pool)
	scanRepo := repository.NewScanRepository(pool)
	findingRepo := repository.NewFindingRepository(pool)
	inventoryRepo := repository.NewInventoryRepository(pool)
	scheduleRepo := repository.NewScheduleRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	auditLog := audit.NewLogger(eventRepo, pool, logger)

	// Recover work orphaned by an unclean shutdown before accepting traffic.
	summary, err := recovery.Run(context.Background(), pool, jobRepo, runRepo, scanRepo, cfg.Recovery.MinLockAge, logger)
	if err != nil {
		log.Fatalf("Startup recovery failed: %v", err)
	}
	logger.Info("Startup recovery completed",
		slog.Int64("runs", summary.Runs),
		slog.Int64("jobs", summary.Jobs),
		slog.Int64("scans", summary.Scans),
	)

	// Services
	targetService := service.NewTargetService(targetRepo, inventoryRepo)
	pipelineService := service.NewPipelineService(pool, targetService, runRepo, jobRepo, auditLog)
	scheduleService := service.NewScheduleService(targetRepo, scheduleRepo)

	// Handlers
	targetHandler := handler.NewTargetHandler(targetService, findingRepo)
	pipelineHandler := handler.NewPipelineHandler(pipelineService, runRepo, jobRepo, scanRepo)
	scheduleHandler := handler.NewScheduleHandler(scheduleService)
	eventHandler := handler.NewEventHandler(eventRepo)

	// Redis is optional and only backs API rate limiting.
	var redis *database.Redis
	if cfg.Redis.Enabled {
		redis, err = database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		logger.Info("Connected to Redis")
	}

	// Setup router
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// Health check endpoints
	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(db, redis))

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		if redis != nil {
			r.Use(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig()))
		}

		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, map[string]string{
				"name":    "shadowpulse API",
				"version": "1.0.0",
			})
		})

		r.Mount("/targets", targetHandler.Routes())
		r.Mount("/schedules", scheduleHandler.Routes())
		r.Mount("/changes", eventHandler.Routes())
		// Run, job and pipeline-trigger routes live at the API root.
		r.Mount("/", pipelineHandler.Routes())
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// healthHandler returns a simple health check that always succeeds if the
// server is running.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// readyHandler returns a readiness check that verifies the database and,
// when enabled, the Redis connection.
func readyHandler(db *database.Postgres, redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}

		if redis != nil {
			if err := redis.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"error","component":"redis"}`))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
