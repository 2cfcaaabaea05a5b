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

// ScanRepository records probe executions. Rows are created in running
// state when a probe starts and finished with status plus truncated raw
// output when it returns.
type ScanRepository interface {
	Start(ctx context.Context, targetID string, runID *string, scanner, scanTarget string, config *string) (*models.Scan, error)
	Finish(ctx context.Context, id string, status models.ScanStatus, rawOutput string) error
	GetByID(ctx context.Context, id string) (*models.Scan, error)
	List(ctx context.Context, targetID, runID string, limit int) ([]*models.Scan, error)
	PurgeRawOutput(ctx context.Context, q database.Querier, olderThan time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, q database.Querier, olderThan time.Time) (int64, error)
	RecoverOrphaned(ctx context.Context, q database.Querier) (int64, error)
}

type scanRepo struct {
	pool *pgxpool.Pool
}

// NewScanRepository creates a new scan repository.
func NewScanRepository(pool *pgxpool.Pool) ScanRepository {
	return &scanRepo{pool: pool}
}

const scanColumns = `id, target_id, run_id, scanner, scan_target, status, config, raw_output, started_at, completed_at, created_at`

func scanScan(row pgx.Row) (*models.Scan, error) {
	var s models.Scan
	err := row.Scan(&s.ID, &s.TargetID, &s.RunID, &s.Scanner, &s.ScanTarget, &s.Status, &s.Config, &s.RawOutput, &s.StartedAt, &s.CompletedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *scanRepo) Start(ctx context.Context, targetID string, runID *string, scanner, scanTarget string, config *string) (*models.Scan, error) {
	now := time.Now().UTC()
	s := &models.Scan{
		ID:         ulid.New(),
		TargetID:   targetID,
		RunID:      runID,
		Scanner:    scanner,
		ScanTarget: scanTarget,
		Status:     models.ScanRunning,
		Config:     config,
		StartedAt:  &now,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO scans (id, target_id, run_id, scanner, scan_target, status, config, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		s.ID, s.TargetID, s.RunID, s.Scanner, s.ScanTarget, s.Status, s.Config, s.StartedAt,
	).Scan(&s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to start scan: %w", err)
	}
	return s, nil
}

// Finish stamps the terminal status and stores raw output truncated to
// models.MaxRawOutput.
func (r *scanRepo) Finish(ctx context.Context, id string, status models.ScanStatus, rawOutput string) error {
	if len(rawOutput) > models.MaxRawOutput {
		rawOutput = rawOutput[:models.MaxRawOutput]
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE scans SET status = $2, raw_output = $3, completed_at = $4
		WHERE id = $1 AND status = 'running'`,
		id, status, rawOutput, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to finish scan %s: %w", id, err)
	}
	return nil
}

func (r *scanRepo) GetByID(ctx context.Context, id string) (*models.Scan, error) {
	s, err := scanScan(r.pool.QueryRow(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan %s: %w", id, err)
	}
	return s, nil
}

func (r *scanRepo) List(ctx context.Context, targetID, runID string, limit int) ([]*models.Scan, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + scanColumns + ` FROM scans WHERE 1=1`
	args := []any{}
	if targetID != "" {
		args = append(args, targetID)
		query += fmt.Sprintf(` AND target_id = $%d`, len(args))
	}
	if runID != "" {
		args = append(args, runID)
		query += fmt.Sprintf(` AND run_id = $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var scans []*models.Scan
	for rows.Next() {
		s, err := scanScan(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

// PurgeRawOutput nulls raw_output on old completed scans, keeping the scan
// row itself as an audit record.
func (r *scanRepo) PurgeRawOutput(ctx context.Context, q database.Querier, olderThan time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE scans SET raw_output = NULL
		WHERE raw_output IS NOT NULL AND completed_at IS NOT NULL AND completed_at < $1`,
		olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge scan raw output: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOlderThan removes finished scan rows past the retention horizon.
func (r *scanRepo) DeleteOlderThan(ctx context.Context, q database.Querier, olderThan time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM scans
		WHERE completed_at IS NOT NULL AND completed_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old scans: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecoverOrphaned fails scans left running by a crashed worker.
func (r *scanRepo) RecoverOrphaned(ctx context.Context, q database.Querier) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE scans SET status = 'failed', completed_at = $1
		WHERE status = 'running'`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned scans: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ ScanRepository = (*scanRepo)(nil)
