// Package retention ages out scan output and historical runs.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/config"
	"github.com/Good-Security/shadowpulse/internal/repository"
)

// Summary reports what one sweep removed.
type Summary struct {
	RawOutputsCleared int64 `json:"raw_outputs_cleared"`
	ScansDeleted      int64 `json:"scans_deleted"`
	RunsDeleted       int64 `json:"runs_deleted"`
}

// Sweeper applies the retention policy: null raw_output on old scans,
// then drop scans and terminal runs past the long horizon. Findings
// survive run deletion; they reference the target directly.
type Sweeper struct {
	pool  *pgxpool.Pool
	scans repository.ScanRepository
	cfg   config.RetentionConfig
	log   *slog.Logger
}

// NewSweeper creates a retention sweeper.
func NewSweeper(pool *pgxpool.Pool, scans repository.ScanRepository, cfg config.RetentionConfig, log *slog.Logger) *Sweeper {
	return &Sweeper{pool: pool, scans: scans, cfg: cfg, log: log}
}

// Sweep runs one pass in a single transaction.
func (s *Sweeper) Sweep(ctx context.Context) (*Summary, error) {
	now := time.Now().UTC()
	rawCutoff := now.AddDate(0, 0, -s.cfg.RawOutputDays)
	runCutoff := now.AddDate(0, 0, -s.cfg.CompletedRunsDays)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin retention transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sum := &Summary{}

	sum.RawOutputsCleared, err = s.scans.PurgeRawOutput(ctx, tx, rawCutoff)
	if err != nil {
		return nil, err
	}

	sum.ScansDeleted, err = s.scans.DeleteOlderThan(ctx, tx, runCutoff)
	if err != nil {
		return nil, err
	}

	// Remaining scans of these runs cascade; provenance FKs elsewhere
	// null out.
	tag, err := tx.Exec(ctx, `
		DELETE FROM runs
		WHERE status IN ('completed', 'failed', 'discarded', 'cancelled')
		  AND completed_at IS NOT NULL AND completed_at < $1`, runCutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete old runs: %w", err)
	}
	sum.RunsDeleted = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit retention transaction: %w", err)
	}

	if sum.RawOutputsCleared > 0 || sum.ScansDeleted > 0 || sum.RunsDeleted > 0 {
		s.log.Info("retention sweep",
			"raw_outputs_cleared", sum.RawOutputsCleared,
			"scans_deleted", sum.ScansDeleted,
			"runs_deleted", sum.RunsDeleted)
	}
	return sum, nil
}
