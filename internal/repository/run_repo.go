package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/pkg/ulid"
)

// RunRepository manages pipeline runs. Terminal statuses are absorbing:
// every transition is guarded so a completed/failed/discarded/cancelled
// run is never overwritten.
type RunRepository interface {
	Create(ctx context.Context, q database.Querier, targetID string, trigger models.RunTrigger) (*models.Run, error)
	GetByID(ctx context.Context, id string) (*models.Run, error)
	GetStatus(ctx context.Context, id string) (models.RunStatus, error)
	MarkRunning(ctx context.Context, id string) (bool, error)
	MarkTerminal(ctx context.Context, id string, status models.RunStatus) (bool, error)
	SetCompletedAt(ctx context.Context, id string) error
	Discard(ctx context.Context, q database.Querier, id string) (bool, error)
	List(ctx context.Context, targetID string, limit int) ([]*models.Run, error)
	RecoverOrphaned(ctx context.Context, q database.Querier) (int64, error)
}

type runRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a new run repository.
func NewRunRepository(pool *pgxpool.Pool) RunRepository {
	return &runRepo{pool: pool}
}

const runColumns = `id, target_id, trigger, status, started_at, completed_at, created_at`

func scanRun(row pgx.Row) (*models.Run, error) {
	var run models.Run
	err := row.Scan(&run.ID, &run.TargetID, &run.Trigger, &run.Status, &run.StartedAt, &run.CompletedAt, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Create inserts a queued run. Takes a Querier so the scheduler can create
// the run and its job in one transaction.
func (r *runRepo) Create(ctx context.Context, q database.Querier, targetID string, trigger models.RunTrigger) (*models.Run, error) {
	run := &models.Run{
		ID:       ulid.New(),
		TargetID: targetID,
		Trigger:  trigger,
		Status:   models.RunQueued,
	}
	err := q.QueryRow(ctx, `
		INSERT INTO runs (id, target_id, trigger, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		run.ID, run.TargetID, run.Trigger, run.Status,
	).Scan(&run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (r *runRepo) GetByID(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// GetStatus is the cheap status re-read the pipeline performs between
// stages to detect external cancellation.
func (r *runRepo) GetStatus(ctx context.Context, id string) (models.RunStatus, error) {
	var status models.RunStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get run status %s: %w", id, err)
	}
	return status, nil
}

// MarkRunning transitions queued -> running and stamps started_at. Returns
// false when the run was not in queued state.
func (r *runRepo) MarkRunning(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'queued'`, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark run %s running: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkTerminal transitions a live run to the given terminal status and
// stamps completed_at. Returns false when the run was already terminal.
func (r *runRepo) MarkTerminal(ctx context.Context, id string, status models.RunStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %s is not terminal", status)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs SET status = $2, completed_at = $3
		WHERE id = $1 AND status IN ('queued', 'running')`, id, status, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetCompletedAt stamps completed_at without touching status. Used when a
// cancelled run's worker winds down: the external canceller already set the
// terminal status, the worker records when execution actually stopped.
func (r *runRepo) SetCompletedAt(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE runs SET completed_at = $2
		WHERE id = $1 AND completed_at IS NULL`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to stamp run %s completion: %w", id, err)
	}
	return nil
}

// Discard transitions a live run to discarded. The caller cancels the
// run's jobs in the same transaction via JobRepository.CancelForRun.
func (r *runRepo) Discard(ctx context.Context, q database.Querier, id string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE runs SET status = 'discarded', completed_at = $2
		WHERE id = $1 AND status IN ('queued', 'running')`, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to discard run %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *runRepo) List(ctx context.Context, targetID string, limit int) ([]*models.Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if targetID != "" {
		query += ` WHERE target_id = $1`
		args = append(args, targetID)
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecoverOrphaned fails runs left running by a crashed process. Queued
// runs keep their queued jobs and restart normally.
func (r *runRepo) RecoverOrphaned(ctx context.Context, q database.Querier) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE runs SET status = 'failed', completed_at = $1
		WHERE status = 'running'`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ RunRepository = (*runRepo)(nil)
