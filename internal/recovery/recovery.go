// Package recovery restores queue invariants after an unclean shutdown.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/repository"
)

// RecoveredError is written into jobs orphaned by a crash.
const RecoveredError = "Recovered: server restarted while job was running"

// Summary reports what startup recovery touched.
type Summary struct {
	Jobs  int64 `json:"jobs"`
	Runs  int64 `json:"runs"`
	Scans int64 `json:"scans"`
}

// Run fails every orphaned running job, run and scan in one transaction.
// Idempotent: already-terminal rows are untouched. minLockAge guards
// multi-replica deployments, where a fresh lock belongs to a live peer;
// zero recovers everything, matching the single-process assumption.
func Run(ctx context.Context, pool *pgxpool.Pool, jobs repository.JobRepository, runs repository.RunRepository, scans repository.ScanRepository, minLockAge time.Duration, log *slog.Logger) (*Summary, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin recovery transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sum := &Summary{}

	sum.Jobs, err = jobs.RecoverOrphaned(ctx, tx, RecoveredError, minLockAge)
	if err != nil {
		return nil, err
	}
	sum.Runs, err = runs.RecoverOrphaned(ctx, tx)
	if err != nil {
		return nil, err
	}
	sum.Scans, err = scans.RecoverOrphaned(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit recovery transaction: %w", err)
	}

	if sum.Jobs > 0 || sum.Runs > 0 || sum.Scans > 0 {
		log.Warn("recovered orphaned work from previous process",
			"jobs", sum.Jobs,
			"runs", sum.Runs,
			"scans", sum.Scans)
	}
	return sum, nil
}
