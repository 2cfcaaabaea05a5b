package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/pkg/ulid"
)

// EventRepository stores the append-only audit trail. Rows are inserted
// and listed, never updated.
type EventRepository interface {
	Insert(ctx context.Context, q database.Querier, targetID string, runID *string, eventType models.EventType, detail any, actor string) (*models.RunEvent, error)
	List(ctx context.Context, targetID, runID string, limit int) ([]*models.RunEvent, error)
}

type eventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new event repository.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepo{pool: pool}
}

const eventColumns = `id, target_id, run_id, event_type, detail, actor, created_at`

func scanEvent(row pgx.Row) (*models.RunEvent, error) {
	var e models.RunEvent
	err := row.Scan(&e.ID, &e.TargetID, &e.RunID, &e.EventType, &e.Detail, &e.Actor, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *eventRepo) Insert(ctx context.Context, q database.Querier, targetID string, runID *string, eventType models.EventType, detail any, actor string) (*models.RunEvent, error) {
	var raw json.RawMessage
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event detail: %w", err)
		}
		raw = b
	}

	e := &models.RunEvent{
		ID:        ulid.New(),
		TargetID:  targetID,
		RunID:     runID,
		EventType: eventType,
		Detail:    raw,
		Actor:     actor,
	}
	err := q.QueryRow(ctx, `
		INSERT INTO run_events (id, target_id, run_id, event_type, detail, actor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		e.ID, e.TargetID, e.RunID, e.EventType, e.Detail, e.Actor,
	).Scan(&e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	return e, nil
}

func (r *eventRepo) List(ctx context.Context, targetID, runID string, limit int) ([]*models.RunEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + eventColumns + ` FROM run_events WHERE 1=1`
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
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.RunEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ EventRepository = (*eventRepo)(nil)
