package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/pkg/ulid"
)

// ScheduleUpdate carries the mutable schedule fields. Nil means unchanged.
type ScheduleUpdate struct {
	Enabled         *bool
	IntervalSeconds *int
	NextRunAt       *time.Time
	PipelineConfig  json.RawMessage
}

// ScheduleRepository manages recurring run schedules. ClaimDue is the
// scheduler's leader-election primitive: FOR UPDATE SKIP LOCKED guarantees
// each due schedule fires exactly once per tick across replicas.
type ScheduleRepository interface {
	Create(ctx context.Context, targetID string, intervalSeconds int, nextRunAt *time.Time, pipelineConfig json.RawMessage) (*models.Schedule, error)
	GetByID(ctx context.Context, id string) (*models.Schedule, error)
	Update(ctx context.Context, id string, upd ScheduleUpdate) (*models.Schedule, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, targetID string) ([]*models.Schedule, error)
	ClaimDue(ctx context.Context, tx pgx.Tx, now time.Time) (*models.Schedule, error)
	AdvanceNextRun(ctx context.Context, tx pgx.Tx, id string, nextRunAt time.Time) error
}

type scheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepo{pool: pool}
}

const scheduleColumns = `id, target_id, enabled, interval_seconds, next_run_at, pipeline_config, created_at, updated_at`

func scanSchedule(row pgx.Row) (*models.Schedule, error) {
	var s models.Schedule
	err := row.Scan(&s.ID, &s.TargetID, &s.Enabled, &s.IntervalSeconds, &s.NextRunAt, &s.PipelineConfig, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *scheduleRepo) Create(ctx context.Context, targetID string, intervalSeconds int, nextRunAt *time.Time, pipelineConfig json.RawMessage) (*models.Schedule, error) {
	if intervalSeconds < models.MinScheduleInterval {
		return nil, fmt.Errorf("interval_seconds must be at least %d", models.MinScheduleInterval)
	}

	next := time.Now().UTC()
	if nextRunAt != nil {
		next = nextRunAt.UTC()
	}

	s := &models.Schedule{
		ID:              ulid.New(),
		TargetID:        targetID,
		Enabled:         true,
		IntervalSeconds: intervalSeconds,
		NextRunAt:       &next,
		PipelineConfig:  pipelineConfig,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO schedules (id, target_id, enabled, interval_seconds, next_run_at, pipeline_config)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		s.ID, s.TargetID, s.Enabled, s.IntervalSeconds, s.NextRunAt, s.PipelineConfig,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	return s, nil
}

func (r *scheduleRepo) GetByID(ctx context.Context, id string) (*models.Schedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}
	return s, nil
}

func (r *scheduleRepo) Update(ctx context.Context, id string, upd ScheduleUpdate) (*models.Schedule, error) {
	if upd.IntervalSeconds != nil && *upd.IntervalSeconds < models.MinScheduleInterval {
		return nil, fmt.Errorf("interval_seconds must be at least %d", models.MinScheduleInterval)
	}

	set := `updated_at = now()`
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set += fmt.Sprintf(`, %s = $%d`, col, len(args))
	}
	if upd.Enabled != nil {
		add("enabled", *upd.Enabled)
	}
	if upd.IntervalSeconds != nil {
		add("interval_seconds", *upd.IntervalSeconds)
	}
	if upd.NextRunAt != nil {
		add("next_run_at", upd.NextRunAt.UTC())
	}
	if upd.PipelineConfig != nil {
		add("pipeline_config", upd.PipelineConfig)
	}

	s, err := scanSchedule(r.pool.QueryRow(ctx,
		`UPDATE schedules SET `+set+` WHERE id = $1 RETURNING `+scheduleColumns, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule %s: %w", id, err)
	}
	return s, nil
}

func (r *scheduleRepo) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *scheduleRepo) List(ctx context.Context, targetID string) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	args := []any{}
	if targetID != "" {
		query += ` WHERE target_id = $1`
		args = append(args, targetID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// ClaimDue locks one due enabled schedule inside tx, or returns nil when
// none is due. Concurrent schedulers skip each other's locked rows, so a
// schedule fires once even with multiple replicas ticking.
func (r *scheduleRepo) ClaimDue(ctx context.Context, tx pgx.Tx, now time.Time) (*models.Schedule, error) {
	s, err := scanSchedule(tx.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE enabled = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, now.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim due schedule: %w", err)
	}
	return s, nil
}

// AdvanceNextRun moves next_run_at forward inside the same transaction
// that created the run and enqueued its job.
func (r *scheduleRepo) AdvanceNextRun(ctx context.Context, tx pgx.Tx, id string, nextRunAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE schedules SET next_run_at = $2, updated_at = now()
		WHERE id = $1`, id, nextRunAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance schedule %s: %w", id, err)
	}
	return nil
}

var _ ScheduleRepository = (*scheduleRepo)(nil)
