// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/pkg/ulid"
	"github.com/Good-Security/shadowpulse/internal/scope"
)

// maxErrorLen caps last_error storage.
const maxErrorLen = 2000

// ClaimLimits carries the concurrency caps consulted during a claim.
type ClaimLimits struct {
	Global    int
	PerTarget int
}

// EnqueueParams describes a job to insert.
type EnqueueParams struct {
	Type        models.JobType
	TargetID    string
	RunID       *string
	Payload     any
	AvailableAt *time.Time
}

// JobRepository is the durable work queue. Claim/complete/fail/cancel are
// designed for short transactions; no lock is ever held across probe
// execution.
type JobRepository interface {
	Enqueue(ctx context.Context, q database.Querier, p EnqueueParams) (*models.Job, error)
	ClaimNext(ctx context.Context, tx pgx.Tx, workerID string, limits ClaimLimits) (*models.Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, jobErr string, retryIn *time.Duration) error
	Cancel(ctx context.Context, id string, reason string) error
	CancelForRun(ctx context.Context, q database.Querier, runID string, reason string) (int64, error)
	GetByID(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, targetID string, status models.JobStatus, limit int) ([]*models.Job, error)
	CountRunning(ctx context.Context, q database.Querier, targetID string) (int, error)
	RecoverOrphaned(ctx context.Context, q database.Querier, lastError string, minLockAge time.Duration) (int64, error)
}

type jobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job queue repository.
func NewJobRepository(pool *pgxpool.Pool) JobRepository {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, type, status, target_id, run_id, payload, available_at, locked_at, locked_by, attempts, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.Type, &j.Status, &j.TargetID, &j.RunID, &j.Payload,
		&j.AvailableAt, &j.LockedAt, &j.LockedBy, &j.Attempts, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Enqueue inserts a queued job. It takes a Querier so producers (scheduler
// tick, differential sweep) can enqueue inside their own transaction.
func (r *jobRepo) Enqueue(ctx context.Context, q database.Querier, p EnqueueParams) (*models.Job, error) {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := time.Now().UTC()
	availableAt := now
	if p.AvailableAt != nil {
		availableAt = *p.AvailableAt
	}

	job := &models.Job{
		ID:          ulid.New(),
		Type:        p.Type,
		Status:      models.JobQueued,
		TargetID:    p.TargetID,
		RunID:       p.RunID,
		Payload:     payload,
		AvailableAt: &availableAt,
	}

	query := `
		INSERT INTO jobs (id, type, status, target_id, run_id, payload, available_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err = q.QueryRow(ctx, query,
		job.ID, job.Type, job.Status, job.TargetID, job.RunID, job.Payload, job.AvailableAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// CountRunning counts running jobs, optionally filtered by target.
func (r *jobRepo) CountRunning(ctx context.Context, q database.Querier, targetID string) (int, error) {
	var count int
	var err error
	if targetID == "" {
		err = q.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = 'running'`).Scan(&count)
	} else {
		err = q.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = 'running' AND target_id = $1`, targetID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count running jobs: %w", err)
	}
	return count, nil
}

// perTargetLimit resolves the per-target cap: the target scope's
// max_concurrent_jobs when present, else the configured default.
func (r *jobRepo) perTargetLimit(ctx context.Context, tx pgx.Tx, targetID string, fallback int) (int, error) {
	var raw json.RawMessage
	err := tx.QueryRow(ctx, `SELECT scope FROM targets WHERE id = $1`, targetID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fallback, nil
		}
		return 0, fmt.Errorf("failed to load target scope: %w", err)
	}
	return scopeJobLimit(raw, fallback), nil
}

// scopeJobLimit extracts max_concurrent_jobs from a raw scope document.
// An explicit zero means the target accepts no concurrent jobs; an absent
// or unparseable key falls back to the configured default.
func scopeJobLimit(raw json.RawMessage, fallback int) int {
	if len(raw) == 0 {
		return fallback
	}
	var cfg scope.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fallback
	}
	if cfg.MaxConcurrentJobs > 0 || jsonHasKey(raw, "max_concurrent_jobs") {
		return cfg.MaxConcurrentJobs
	}
	return fallback
}

// jsonHasKey reports whether the raw object carries the key at the top
// level, so an explicit zero can be distinguished from absence.
func jsonHasKey(raw json.RawMessage, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

// ClaimNext claims one queued job using SELECT .. FOR UPDATE SKIP LOCKED.
// Must be called inside tx; when a concurrency cap blocks the claim the
// selected row's lock is released with the transaction and the job stays
// queued. Returns nil when nothing is claimable.
func (r *jobRepo) ClaimNext(ctx context.Context, tx pgx.Tx, workerID string, limits ClaimLimits) (*models.Job, error) {
	if limits.Global <= 0 {
		return nil, nil
	}
	runningGlobal, err := r.CountRunning(ctx, tx, "")
	if err != nil {
		return nil, err
	}
	if runningGlobal >= limits.Global {
		return nil, nil
	}

	now := time.Now().UTC()
	row := tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'queued' AND (available_at IS NULL OR available_at <= $1)
		ORDER BY available_at ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, now)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	perTarget, err := r.perTargetLimit(ctx, tx, job.TargetID, limits.PerTarget)
	if err != nil {
		return nil, err
	}
	runningForTarget, err := r.CountRunning(ctx, tx, job.TargetID)
	if err != nil {
		return nil, err
	}
	if runningForTarget >= perTarget {
		return nil, nil
	}

	err = tx.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'running', locked_at = $2, locked_by = $3, attempts = attempts + 1, updated_at = $2
		WHERE id = $1
		RETURNING attempts`, job.ID, now, workerID).Scan(&job.Attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to lock job %s: %w", job.ID, err)
	}

	job.Status = models.JobRunning
	job.LockedAt = &now
	job.LockedBy = &workerID
	return job, nil
}

// Complete transitions running -> completed. The status guard preserves
// terminal states set during execution (e.g. cancelled).
func (r *jobRepo) Complete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', updated_at = $2
		WHERE id = $1 AND status = 'running'`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

// Fail transitions running -> failed, or back to queued with a delay when
// retryIn is set. Terminal states are never overwritten.
func (r *jobRepo) Fail(ctx context.Context, id string, jobErr string, retryIn *time.Duration) error {
	now := time.Now().UTC()
	jobErr = truncate(jobErr, maxErrorLen)

	var err error
	if retryIn != nil {
		availableAt := now.Add(*retryIn)
		_, err = r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'queued', last_error = $2, available_at = $3,
			    locked_at = NULL, locked_by = NULL, updated_at = $4
			WHERE id = $1 AND status = 'running'`, id, jobErr, availableAt, now)
	} else {
		_, err = r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'failed', last_error = $2, updated_at = $3
			WHERE id = $1 AND status = 'running'`, id, jobErr, now)
	}
	if err != nil {
		return fmt.Errorf("failed to fail job %s: %w", id, err)
	}
	return nil
}

// Cancel forces status to cancelled from any non-terminal state and clears
// the lock. Cancelling an already-terminal job is a no-op.
func (r *jobRepo) Cancel(ctx context.Context, id string, reason string) error {
	now := time.Now().UTC()
	var err error
	if reason != "" {
		_, err = r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'cancelled', last_error = $2, locked_at = NULL, locked_by = NULL, updated_at = $3
			WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
			id, truncate(reason, maxErrorLen), now)
	} else {
		_, err = r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'cancelled', locked_at = NULL, locked_by = NULL, updated_at = $2
			WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`, id, now)
	}
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	return nil
}

// CancelForRun cancels every queued or running job of a run in one
// statement. Used when a run is discarded.
func (r *jobRepo) CancelForRun(ctx context.Context, q database.Querier, runID string, reason string) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled', last_error = $2, locked_at = NULL, locked_by = NULL, updated_at = $3
		WHERE run_id = $1 AND status IN ('queued', 'running')`,
		runID, truncate(reason, maxErrorLen), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs for run %s: %w", runID, err)
	}
	return tag.RowsAffected(), nil
}

// GetByID retrieves a job by ID. Returns nil when absent.
func (r *jobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// List retrieves jobs newest-first, optionally filtered.
func (r *jobRepo) List(ctx context.Context, targetID string, status models.JobStatus, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	if targetID != "" {
		args = append(args, targetID)
		query += fmt.Sprintf(` AND target_id = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecoverOrphaned fails running jobs left behind by a crashed process.
// With minLockAge > 0 only jobs whose lock is at least that old are
// touched, sparing live work on peer replicas.
func (r *jobRepo) RecoverOrphaned(ctx context.Context, q database.Querier, lastError string, minLockAge time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-minLockAge)
	tag, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $1, updated_at = $2
		WHERE status = 'running' AND (locked_at IS NULL OR locked_at <= $3)`,
		truncate(lastError, maxErrorLen), now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Compile-time check to ensure jobRepo implements JobRepository.
var _ JobRepository = (*jobRepo)(nil)
