// Package worker claims jobs from the queue and executes them. Each
// worker holds one job at a time; claim, complete and fail each run in
// their own short transaction so no row lock spans probe execution.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Good-Security/shadowpulse/internal/audit"
	"github.com/Good-Security/shadowpulse/internal/models"
	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"
	"github.com/Good-Security/shadowpulse/internal/pipeline"
	"github.com/Good-Security/shadowpulse/internal/repository"
	"github.com/Good-Security/shadowpulse/internal/retention"
	"github.com/Good-Security/shadowpulse/internal/verify"
)

const (
	maxAttempts       = 3
	retryDelay        = 10 * time.Second
	retentionInterval = time.Hour
)

var (
	jobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shadowpulse",
		Name:      "jobs_claimed_total",
		Help:      "Jobs claimed from the queue",
	}, []string{"type"})
	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shadowpulse",
		Name:      "jobs_completed_total",
		Help:      "Jobs finished successfully",
	}, []string{"type"})
	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shadowpulse",
		Name:      "jobs_failed_total",
		Help:      "Job executions that failed",
	}, []string{"type", "retried"})
	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shadowpulse",
		Name:      "jobs_running",
		Help:      "Jobs currently executing in this process",
	})
)

// Config tunes the worker loop.
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	Limits       repository.ClaimLimits
}

// Worker is the claim-and-execute loop.
type Worker struct {
	pool      *pgxpool.Pool
	jobs      repository.JobRepository
	runs      repository.RunRepository
	pipeline  *pipeline.Engine
	verifier  *verify.Verifier
	retention *retention.Sweeper
	audit     *audit.Logger
	cfg       Config
	log       *slog.Logger

	lastSweep time.Time
}

// New creates a worker.
func New(
	pool *pgxpool.Pool,
	jobs repository.JobRepository,
	runs repository.RunRepository,
	engine *pipeline.Engine,
	verifier *verify.Verifier,
	sweeper *retention.Sweeper,
	auditLog *audit.Logger,
	cfg Config,
	log *slog.Logger,
) *Worker {
	return &Worker{
		pool:      pool,
		jobs:      jobs,
		runs:      runs,
		pipeline:  engine,
		verifier:  verifier,
		retention: sweeper,
		audit:     auditLog,
		cfg:       cfg,
		log:       log,
	}
}

// Run executes the claim loop until ctx is cancelled. The current job is
// finished (or failed) before Run returns, so a clean shutdown never
// leaves a running job behind.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		"worker_id", w.cfg.WorkerID,
		"poll_interval", w.cfg.PollInterval,
		"global_limit", w.cfg.Limits.Global,
		"per_target_limit", w.cfg.Limits.PerTarget)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.maybeSweep(ctx)

		job, err := w.claim(ctx)
		if err != nil {
			w.log.Error("claim failed", "error", err)
			job = nil
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		w.handle(ctx, job)
	}
}

// claim runs the claim transaction. A nil job means nothing claimable:
// empty queue or a concurrency cap in effect.
func (w *Worker) claim(ctx context.Context) (*models.Job, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job, err := w.jobs.ClaimNext(ctx, tx, w.cfg.WorkerID, w.cfg.Limits)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

func (w *Worker) handle(ctx context.Context, job *models.Job) {
	jobsClaimed.WithLabelValues(string(job.Type)).Inc()
	jobsRunning.Inc()
	defer jobsRunning.Dec()

	w.audit.JobClaimed(ctx, job, w.cfg.WorkerID)
	w.log.Info("job claimed",
		"job_id", job.ID,
		"job_type", job.Type,
		"target_id", job.TargetID,
		"attempt", job.Attempts)

	err := w.dispatch(ctx, job)

	switch {
	case err == nil:
		if cErr := w.jobs.Complete(ctx, job.ID); cErr != nil {
			w.log.Error("failed to complete job", "job_id", job.ID, "error", cErr)
			return
		}
		jobsCompleted.WithLabelValues(string(job.Type)).Inc()
		w.audit.JobCompleted(ctx, job, w.cfg.WorkerID)
		w.log.Info("job completed", "job_id", job.ID, "job_type", job.Type)

	case errors.Is(err, apierrors.ErrCancelled):
		w.finishCancelled(ctx, job, err)

	default:
		w.fail(ctx, job, err)
	}
}

// finishCancelled closes out a job whose run was cancelled externally.
// The run's terminal status was set by whoever cancelled it; we only
// cancel the job and stamp when execution actually stopped.
func (w *Worker) finishCancelled(ctx context.Context, job *models.Job, err error) {
	if cErr := w.jobs.Cancel(ctx, job.ID, err.Error()); cErr != nil {
		w.log.Error("failed to cancel job", "job_id", job.ID, "error", cErr)
	}
	if job.Type == models.JobRunPipeline && job.RunID != nil {
		if rErr := w.runs.SetCompletedAt(ctx, *job.RunID); rErr != nil {
			w.log.Error("failed to stamp cancelled run", "run_id", *job.RunID, "error", rErr)
		}
	}
	w.log.Info("job cancelled", "job_id", job.ID, "job_type", job.Type)
}

func (w *Worker) dispatch(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobRunPipeline:
		return w.pipeline.Execute(ctx, job, w.cfg.WorkerID)
	case models.JobVerifyAsset:
		return w.verifier.VerifyAsset(ctx, job)
	case models.JobVerifyService:
		return w.verifier.VerifyService(ctx, job)
	default:
		return &invariantError{msg: "unknown job type: " + string(job.Type)}
	}
}

// invariantError marks failures that must not be retried: unknown job
// types, missing references.
type invariantError struct{ msg string }

func (e *invariantError) Error() string { return e.msg }

func (w *Worker) fail(ctx context.Context, job *models.Job, err error) {
	var inv *invariantError
	retriable := !errors.As(err, &inv) && job.Attempts < maxAttempts

	var retryIn *time.Duration
	if retriable {
		d := retryDelay
		retryIn = &d
	}
	if fErr := w.jobs.Fail(ctx, job.ID, err.Error(), retryIn); fErr != nil {
		w.log.Error("failed to fail job", "job_id", job.ID, "error", fErr)
		return
	}

	jobsFailed.WithLabelValues(string(job.Type), boolLabel(retriable)).Inc()
	w.audit.JobFailed(ctx, job, w.cfg.WorkerID, err.Error(), retriable)
	w.log.Warn("job failed",
		"job_id", job.ID,
		"job_type", job.Type,
		"attempt", job.Attempts,
		"will_retry", retriable,
		"error", err)

	// A terminally failed pipeline takes its run down with it.
	if !retriable && job.Type == models.JobRunPipeline && job.RunID != nil {
		if _, rErr := w.runs.MarkTerminal(ctx, *job.RunID, models.RunFailed); rErr != nil {
			w.log.Error("failed to fail run", "run_id", *job.RunID, "error", rErr)
		}
	}
}

// maybeSweep invokes the retention sweep when an hour has passed since
// the last one.
func (w *Worker) maybeSweep(ctx context.Context) {
	if w.retention == nil {
		return
	}
	if time.Since(w.lastSweep) < retentionInterval {
		return
	}
	w.lastSweep = time.Now()
	if _, err := w.retention.Sweep(ctx); err != nil {
		w.log.Error("retention sweep failed", "error", err)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
