package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/pkg/ulid"
)

// FindingRepository persists vulnerability observations.
type FindingRepository interface {
	Create(ctx context.Context, q database.Querier, f *models.Finding) (*models.Finding, error)
	List(ctx context.Context, targetID, severity string, limit int) ([]*models.Finding, error)
}

type findingRepo struct {
	pool *pgxpool.Pool
}

// NewFindingRepository creates a new finding repository.
func NewFindingRepository(pool *pgxpool.Pool) FindingRepository {
	return &findingRepo{pool: pool}
}

const findingColumns = `id, scan_id, target_id, run_id, asset_id, severity, title, description, impact, evidence, remediation, url, cve, cvss_score, created_at`

func scanFinding(row pgx.Row) (*models.Finding, error) {
	var f models.Finding
	err := row.Scan(&f.ID, &f.ScanID, &f.TargetID, &f.RunID, &f.AssetID, &f.Severity, &f.Title,
		&f.Description, &f.Impact, &f.Evidence, &f.Remediation, &f.URL, &f.CVE, &f.CVSSScore, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *findingRepo) Create(ctx context.Context, q database.Querier, f *models.Finding) (*models.Finding, error) {
	f.ID = ulid.New()
	err := q.QueryRow(ctx, `
		INSERT INTO findings (id, scan_id, target_id, run_id, asset_id, severity, title, description, impact, evidence, remediation, url, cve, cvss_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at`,
		f.ID, f.ScanID, f.TargetID, f.RunID, f.AssetID, f.Severity, f.Title,
		f.Description, f.Impact, f.Evidence, f.Remediation, f.URL, f.CVE, f.CVSSScore,
	).Scan(&f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create finding: %w", err)
	}
	return f, nil
}

func (r *findingRepo) List(ctx context.Context, targetID, severity string, limit int) ([]*models.Finding, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + findingColumns + ` FROM findings WHERE 1=1`
	args := []any{}
	if targetID != "" {
		args = append(args, targetID)
		query += fmt.Sprintf(` AND target_id = $%d`, len(args))
	}
	if severity != "" {
		args = append(args, severity)
		query += fmt.Sprintf(` AND severity = $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []*models.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

var _ FindingRepository = (*findingRepo)(nil)
