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
	"github.com/Good-Security/shadowpulse/internal/scanner"
)

// IngestStats summarizes one batch ingest.
type IngestStats struct {
	Assets   int `json:"assets"`
	Services int `json:"services"`
	Edges    int `json:"edges"`
}

// VerifyConclusion is a verifier verdict applied to an asset or service.
type VerifyConclusion struct {
	Status models.ArtifactStatus
	Reason string
	RunID  *string
}

// InventoryRepository is the differential inventory store. Seen-upserts
// resurrect stale/closed/unresolved rows to active; first_seen fields are
// write-once; verified_at/verified_run_id survive resurrection so the last
// verification verdict stays auditable.
type InventoryRepository interface {
	UpsertAssetSeen(ctx context.Context, q database.Querier, targetID, runID string, typ models.AssetType, value, normalized string) (*models.Asset, error)
	UpsertServiceSeen(ctx context.Context, q database.Querier, targetID, assetID, runID string, port int, proto models.Protocol, name, product, version string) (*models.Service, error)
	UpsertEdgeSeen(ctx context.Context, q database.Querier, targetID, fromAssetID, toAssetID, runID string, relType models.RelType) (*models.Edge, error)
	IngestScanResult(ctx context.Context, q database.Querier, targetID, runID string, res *scanner.Result) (*IngestStats, error)

	GetAssetByID(ctx context.Context, id string) (*models.Asset, error)
	GetServiceByID(ctx context.Context, id string) (*models.Service, error)
	SetAssetStatus(ctx context.Context, id string, c VerifyConclusion) error
	SetServiceStatus(ctx context.Context, id string, c VerifyConclusion) error
	MarkAssetUnresolved(ctx context.Context, q database.Querier, id, reason string) error

	MarkAssetsStale(ctx context.Context, q database.Querier, targetID, runID string, types []models.AssetType, reason string) ([]string, error)
	MarkServicesStale(ctx context.Context, q database.Querier, targetID, runID, reason string) ([]string, error)

	ListAssets(ctx context.Context, targetID string, status models.ArtifactStatus, typ models.AssetType, limit int) ([]*models.Asset, error)
	ListServices(ctx context.Context, targetID string, status models.ArtifactStatus, limit int) ([]*models.Service, error)
	ListEdges(ctx context.Context, targetID string, relType models.RelType, limit int) ([]*models.Edge, error)
	CountAssetsByStatus(ctx context.Context, targetID string) (map[models.ArtifactStatus]int, error)
}

type inventoryRepo struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository creates a new inventory repository.
func NewInventoryRepository(pool *pgxpool.Pool) InventoryRepository {
	return &inventoryRepo{pool: pool}
}

const assetColumns = `id, target_id, type, value, normalized, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, status, status_reason, verified_at, verified_run_id, created_at`

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var a models.Asset
	err := row.Scan(&a.ID, &a.TargetID, &a.Type, &a.Value, &a.Normalized,
		&a.FirstSeenRun, &a.LastSeenRun, &a.FirstSeenAt, &a.LastSeenAt,
		&a.Status, &a.StatusReason, &a.VerifiedAt, &a.VerifiedRunID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const serviceColumns = `id, target_id, asset_id, port, proto, name, product, version, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, status, status_reason, verified_at, verified_run_id, created_at`

func scanService(row pgx.Row) (*models.Service, error) {
	var s models.Service
	err := row.Scan(&s.ID, &s.TargetID, &s.AssetID, &s.Port, &s.Proto,
		&s.Name, &s.Product, &s.Version,
		&s.FirstSeenRun, &s.LastSeenRun, &s.FirstSeenAt, &s.LastSeenAt,
		&s.Status, &s.StatusReason, &s.VerifiedAt, &s.VerifiedRunID, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const edgeColumns = `id, target_id, from_asset_id, to_asset_id, rel_type, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, created_at`

func scanEdge(row pgx.Row) (*models.Edge, error) {
	var e models.Edge
	err := row.Scan(&e.ID, &e.TargetID, &e.FromAssetID, &e.ToAssetID, &e.RelType,
		&e.FirstSeenRun, &e.LastSeenRun, &e.FirstSeenAt, &e.LastSeenAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertAssetSeen records an observation of (type, normalized) for a
// target. Existing rows get value refreshed, last_seen advanced and status
// forced back to active with status_reason cleared; first_seen fields never
// change.
func (r *inventoryRepo) UpsertAssetSeen(ctx context.Context, q database.Querier, targetID, runID string, typ models.AssetType, value, normalized string) (*models.Asset, error) {
	now := time.Now().UTC()
	a, err := scanAsset(q.QueryRow(ctx, `
		INSERT INTO assets (id, target_id, type, value, normalized, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $7, 'active')
		ON CONFLICT (target_id, type, normalized) DO UPDATE SET
			value = EXCLUDED.value,
			last_seen_run_id = EXCLUDED.last_seen_run_id,
			last_seen_at = EXCLUDED.last_seen_at,
			status = 'active',
			status_reason = NULL
		RETURNING `+assetColumns,
		ulid.New(), targetID, typ, value, normalized, runID, now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert asset %s/%s: %w", typ, normalized, err)
	}
	return a, nil
}

// UpsertServiceSeen records an observation of an open port on an asset.
// Non-empty name/product/version overwrite previous fingerprints; empty
// values leave the stored ones intact.
func (r *inventoryRepo) UpsertServiceSeen(ctx context.Context, q database.Querier, targetID, assetID, runID string, port int, proto models.Protocol, name, product, version string) (*models.Service, error) {
	now := time.Now().UTC()
	s, err := scanService(q.QueryRow(ctx, `
		INSERT INTO services (id, target_id, asset_id, port, proto, name, product, version, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $9, $10, $10, 'active')
		ON CONFLICT (target_id, asset_id, port, proto) DO UPDATE SET
			last_seen_run_id = EXCLUDED.last_seen_run_id,
			last_seen_at = EXCLUDED.last_seen_at,
			status = 'active',
			status_reason = NULL,
			name = COALESCE(EXCLUDED.name, services.name),
			product = COALESCE(EXCLUDED.product, services.product),
			version = COALESCE(EXCLUDED.version, services.version)
		RETURNING `+serviceColumns,
		ulid.New(), targetID, assetID, port, proto, name, product, version, runID, now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert service %s:%d/%s: %w", assetID, port, proto, err)
	}
	return s, nil
}

// UpsertEdgeSeen records a relationship observation. Edges have no
// lifecycle status, only seen bookkeeping.
func (r *inventoryRepo) UpsertEdgeSeen(ctx context.Context, q database.Querier, targetID, fromAssetID, toAssetID, runID string, relType models.RelType) (*models.Edge, error) {
	now := time.Now().UTC()
	e, err := scanEdge(q.QueryRow(ctx, `
		INSERT INTO edges (id, target_id, from_asset_id, to_asset_id, rel_type, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $7)
		ON CONFLICT (target_id, from_asset_id, to_asset_id, rel_type) DO UPDATE SET
			last_seen_run_id = EXCLUDED.last_seen_run_id,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING `+edgeColumns,
		ulid.New(), targetID, fromAssetID, toAssetID, relType, runID, now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert edge %s->%s %s: %w", fromAssetID, toAssetID, relType, err)
	}
	return e, nil
}

// IngestScanResult applies one probe result's artifacts in order: assets
// first, then services (auto-creating host assets the probe referenced but
// did not emit), then edges (auto-creating both endpoints the same way).
// Batch-local caches keep each asset (type, normalized), service
// (asset, port, proto) and edge (from, to, rel) at one upsert, so
// duplicate artifacts do not inflate the returned stats.
func (r *inventoryRepo) IngestScanResult(ctx context.Context, q database.Querier, targetID, runID string, res *scanner.Result) (*IngestStats, error) {
	stats := &IngestStats{}
	seen := make(map[string]string) // "type|normalized" -> asset id

	resolve := func(typ models.AssetType, value, normalized string) (string, error) {
		if normalized == "" {
			normalized = value
		}
		key := string(typ) + "|" + normalized
		if id, ok := seen[key]; ok {
			return id, nil
		}
		a, err := r.UpsertAssetSeen(ctx, q, targetID, runID, typ, value, normalized)
		if err != nil {
			return "", err
		}
		seen[key] = a.ID
		stats.Assets++
		return a.ID, nil
	}

	for _, art := range res.Assets {
		if _, err := resolve(models.AssetType(art.Type), art.Value, art.Normalized); err != nil {
			return nil, err
		}
	}

	seenSvc := make(map[string]bool) // "asset|port|proto"
	for _, svc := range res.Services {
		hostID, err := resolve(models.AssetType(svc.HostType), svc.HostValue, svc.HostNormalized)
		if err != nil {
			return nil, err
		}
		proto := models.Protocol(svc.Proto)
		if proto == "" {
			proto = models.ProtoTCP
		}
		key := fmt.Sprintf("%s|%d|%s", hostID, svc.Port, proto)
		if seenSvc[key] {
			continue
		}
		seenSvc[key] = true
		if _, err := r.UpsertServiceSeen(ctx, q, targetID, hostID, runID, svc.Port, proto, svc.Name, svc.Product, svc.Version); err != nil {
			return nil, err
		}
		stats.Services++
	}

	seenEdge := make(map[string]bool) // "from|to|rel"
	for _, edge := range res.Edges {
		fromID, err := resolve(models.AssetType(edge.FromType), edge.FromValue, edge.FromNormalized)
		if err != nil {
			return nil, err
		}
		toID, err := resolve(models.AssetType(edge.ToType), edge.ToValue, edge.ToNormalized)
		if err != nil {
			return nil, err
		}
		key := fromID + "|" + toID + "|" + edge.RelType
		if seenEdge[key] {
			continue
		}
		seenEdge[key] = true
		if _, err := r.UpsertEdgeSeen(ctx, q, targetID, fromID, toID, runID, models.RelType(edge.RelType)); err != nil {
			return nil, err
		}
		stats.Edges++
	}

	return stats, nil
}

func (r *inventoryRepo) GetAssetByID(ctx context.Context, id string) (*models.Asset, error) {
	a, err := scanAsset(r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset %s: %w", id, err)
	}
	return a, nil
}

func (r *inventoryRepo) GetServiceByID(ctx context.Context, id string) (*models.Service, error) {
	s, err := scanService(r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service %s: %w", id, err)
	}
	return s, nil
}

// SetAssetStatus applies a verifier verdict. Negative verdicts (closed,
// unresolved) only touch stale rows, so a row already resurrected by a
// newer run is left alone; an active verdict stamps verified_* regardless.
func (r *inventoryRepo) SetAssetStatus(ctx context.Context, id string, c VerifyConclusion) error {
	query := `
		UPDATE assets SET status = $2, status_reason = $3, verified_at = $4, verified_run_id = $5
		WHERE id = $1 AND status = 'stale'`
	if c.Status == models.StatusActive {
		query = `
		UPDATE assets SET status = $2, status_reason = $3, verified_at = $4, verified_run_id = $5
		WHERE id = $1`
	}
	_, err := r.pool.Exec(ctx, query, id, c.Status, nullIfEmpty(c.Reason), time.Now().UTC(), c.RunID)
	if err != nil {
		return fmt.Errorf("failed to set asset %s status: %w", id, err)
	}
	return nil
}

func (r *inventoryRepo) SetServiceStatus(ctx context.Context, id string, c VerifyConclusion) error {
	query := `
		UPDATE services SET status = $2, status_reason = $3, verified_at = $4, verified_run_id = $5
		WHERE id = $1 AND status = 'stale'`
	if c.Status == models.StatusActive {
		query = `
		UPDATE services SET status = $2, status_reason = $3, verified_at = $4, verified_run_id = $5
		WHERE id = $1`
	}
	_, err := r.pool.Exec(ctx, query, id, c.Status, nullIfEmpty(c.Reason), time.Now().UTC(), c.RunID)
	if err != nil {
		return fmt.Errorf("failed to set service %s status: %w", id, err)
	}
	return nil
}

// MarkAssetUnresolved flags an asset the current run could not resolve.
// Unlike a verifier verdict it applies to active rows and leaves the
// verified_* provenance untouched.
func (r *inventoryRepo) MarkAssetUnresolved(ctx context.Context, q database.Querier, id, reason string) error {
	_, err := q.Exec(ctx, `
		UPDATE assets SET status = 'unresolved', status_reason = $2
		WHERE id = $1 AND status IN ('active', 'stale')`,
		id, nullIfEmpty(reason))
	if err != nil {
		return fmt.Errorf("failed to mark asset %s unresolved: %w", id, err)
	}
	return nil
}

// MarkAssetsStale flips active assets of the given types that the run did
// not observe to stale and returns their IDs for verification enqueueing.
func (r *inventoryRepo) MarkAssetsStale(ctx context.Context, q database.Querier, targetID, runID string, types []models.AssetType, reason string) ([]string, error) {
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}
	rows, err := q.Query(ctx, `
		UPDATE assets SET status = 'stale', status_reason = $3
		WHERE target_id = $1 AND status = 'active' AND type = ANY($4)
		  AND (last_seen_run_id IS NULL OR last_seen_run_id <> $2)
		RETURNING id`, targetID, runID, reason, typeStrs)
	if err != nil {
		return nil, fmt.Errorf("failed to mark stale assets: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// MarkServicesStale flips every active service the run did not observe,
// regardless of host asset type.
func (r *inventoryRepo) MarkServicesStale(ctx context.Context, q database.Querier, targetID, runID, reason string) ([]string, error) {
	rows, err := q.Query(ctx, `
		UPDATE services SET status = 'stale', status_reason = $3
		WHERE target_id = $1 AND status = 'active'
		  AND (last_seen_run_id IS NULL OR last_seen_run_id <> $2)
		RETURNING id`, targetID, runID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to mark stale services: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *inventoryRepo) ListAssets(ctx context.Context, targetID string, status models.ArtifactStatus, typ models.AssetType, limit int) ([]*models.Asset, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	query := `SELECT ` + assetColumns + ` FROM assets WHERE target_id = $1`
	args := []any{targetID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if typ != "" {
		args = append(args, typ)
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY normalized ASC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *inventoryRepo) ListServices(ctx context.Context, targetID string, status models.ArtifactStatus, limit int) ([]*models.Service, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	query := `SELECT ` + serviceColumns + ` FROM services WHERE target_id = $1`
	args := []any{targetID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY asset_id ASC, port ASC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func (r *inventoryRepo) ListEdges(ctx context.Context, targetID string, relType models.RelType, limit int) ([]*models.Edge, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	query := `SELECT ` + edgeColumns + ` FROM edges WHERE target_id = $1`
	args := []any{targetID}
	if relType != "" {
		args = append(args, relType)
		query += fmt.Sprintf(` AND rel_type = $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var edges []*models.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (r *inventoryRepo) CountAssetsByStatus(ctx context.Context, targetID string) (map[models.ArtifactStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*) FROM assets WHERE target_id = $1 GROUP BY status`, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assets: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ArtifactStatus]int)
	for rows.Next() {
		var status models.ArtifactStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ InventoryRepository = (*inventoryRepo)(nil)
