package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/pkg/ulid"
)

// TargetRepository manages registered reconnaissance targets.
type TargetRepository interface {
	Create(ctx context.Context, name, rootDomain string, scope json.RawMessage) (*models.Target, error)
	GetByID(ctx context.Context, id string) (*models.Target, error)
	GetByRootDomain(ctx context.Context, rootDomain string) (*models.Target, error)
	GetOrCreate(ctx context.Context, name, rootDomain string, scope json.RawMessage) (*models.Target, bool, error)
	UpdateScope(ctx context.Context, id string, scope json.RawMessage) (*models.Target, error)
	List(ctx context.Context, limit int) ([]*models.Target, error)
}

type targetRepo struct {
	pool *pgxpool.Pool
}

// NewTargetRepository creates a new target repository.
func NewTargetRepository(pool *pgxpool.Pool) TargetRepository {
	return &targetRepo{pool: pool}
}

const targetColumns = `id, name, root_domain, scope, created_at, updated_at`

func scanTarget(row pgx.Row) (*models.Target, error) {
	var t models.Target
	err := row.Scan(&t.ID, &t.Name, &t.RootDomain, &t.Scope, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *targetRepo) Create(ctx context.Context, name, rootDomain string, scope json.RawMessage) (*models.Target, error) {
	t := &models.Target{
		ID:         ulid.New(),
		Name:       name,
		RootDomain: rootDomain,
		Scope:      scope,
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO targets (id, name, root_domain, scope)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.RootDomain, t.Scope,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}
	return t, nil
}

func (r *targetRepo) GetByID(ctx context.Context, id string) (*models.Target, error) {
	t, err := scanTarget(r.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target %s: %w", id, err)
	}
	return t, nil
}

func (r *targetRepo) GetByRootDomain(ctx context.Context, rootDomain string) (*models.Target, error) {
	t, err := scanTarget(r.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE root_domain = $1`, rootDomain))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target by root domain %s: %w", rootDomain, err)
	}
	return t, nil
}

// GetOrCreate races safely on the root_domain unique constraint: a losing
// insert falls back to reading the winner's row. The bool reports creation.
func (r *targetRepo) GetOrCreate(ctx context.Context, name, rootDomain string, scope json.RawMessage) (*models.Target, bool, error) {
	existing, err := r.GetByRootDomain(ctx, rootDomain)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	t := &models.Target{
		ID:         ulid.New(),
		Name:       name,
		RootDomain: rootDomain,
		Scope:      scope,
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO targets (id, name, root_domain, scope)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (root_domain) DO NOTHING
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.RootDomain, t.Scope,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		winner, err := r.GetByRootDomain(ctx, rootDomain)
		if err != nil {
			return nil, false, err
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create target: %w", err)
	}
	return t, true, nil
}

func (r *targetRepo) UpdateScope(ctx context.Context, id string, scope json.RawMessage) (*models.Target, error) {
	t, err := scanTarget(r.pool.QueryRow(ctx, `
		UPDATE targets SET scope = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+targetColumns, id, scope))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update target scope %s: %w", id, err)
	}
	return t, nil
}

func (r *targetRepo) List(ctx context.Context, limit int) ([]*models.Target, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	var targets []*models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

var _ TargetRepository = (*targetRepo)(nil)
