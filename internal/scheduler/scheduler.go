// Package scheduler fires due recurring pipelines. Any number of
// replicas may tick concurrently; row locking on the schedule guarantees
// each firing happens once, and run creation, job insertion and
// next_run_at advancement commit atomically.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Good-Security/shadowpulse/internal/audit"
	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/repository"
)

var schedulesFired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "shadowpulse",
	Name:      "schedules_fired_total",
	Help:      "Recurring pipelines started by the scheduler",
})

// Scheduler is the firing loop.
type Scheduler struct {
	pool      *pgxpool.Pool
	schedules repository.ScheduleRepository
	runs      repository.RunRepository
	jobs      repository.JobRepository
	audit     *audit.Logger
	interval  time.Duration
	log       *slog.Logger
}

// New creates a scheduler.
func New(pool *pgxpool.Pool, schedules repository.ScheduleRepository, runs repository.RunRepository, jobs repository.JobRepository, auditLog *audit.Logger, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		pool:      pool,
		schedules: schedules,
		runs:      runs,
		jobs:      jobs,
		audit:     auditLog,
		interval:  interval,
		log:       log,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "poll_interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if fired, err := s.Tick(ctx); err != nil {
				s.log.Error("scheduler tick failed", "error", err)
			} else if fired {
				// Drain all due schedules this tick, one per transaction.
				for fired {
					fired, err = s.Tick(ctx)
					if err != nil {
						s.log.Error("scheduler tick failed", "error", err)
						break
					}
				}
			}
		}
	}
}

// Tick fires at most one due schedule. Returns whether one fired.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	schedule, err := s.schedules.ClaimDue(ctx, tx, now)
	if err != nil {
		return false, err
	}
	if schedule == nil {
		return false, nil
	}

	run, err := s.runs.Create(ctx, tx, schedule.TargetID, models.TriggerScheduled)
	if err != nil {
		return false, err
	}

	payload := buildPayload(schedule)
	job, err := s.jobs.Enqueue(ctx, tx, repository.EnqueueParams{
		Type:     models.JobRunPipeline,
		TargetID: schedule.TargetID,
		RunID:    &run.ID,
		Payload:  payload,
	})
	if err != nil {
		return false, err
	}

	next := now.Add(time.Duration(schedule.IntervalSeconds) * time.Second)
	if err := s.schedules.AdvanceNextRun(ctx, tx, schedule.ID, next); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	schedulesFired.Inc()
	s.audit.PipelineTriggered(ctx, schedule.TargetID, run.ID, job.ID, "scheduler", models.TriggerScheduled)
	s.log.Info("schedule fired",
		"schedule_id", schedule.ID,
		"target_id", schedule.TargetID,
		"run_id", run.ID,
		"next_run_at", next)
	return true, nil
}

// buildPayload merges the schedule's pipeline_config with the scheduled
// marker.
func buildPayload(schedule *models.Schedule) map[string]any {
	payload := map[string]any{}
	if len(schedule.PipelineConfig) > 0 {
		var cfg map[string]any
		if err := json.Unmarshal(schedule.PipelineConfig, &cfg); err == nil {
			payload = cfg
		}
	}
	payload["scheduled"] = true
	return payload
}
