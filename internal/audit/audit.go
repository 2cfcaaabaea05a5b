// Package audit emits the append-only event trail. Audit writes are
// best-effort: a failed insert is logged and swallowed so bookkeeping
// never takes down the operation it describes.
package audit

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/repository"
)

// Logger records run events.
type Logger struct {
	events repository.EventRepository
	pool   *pgxpool.Pool
	log    *slog.Logger
}

// NewLogger creates an audit logger.
func NewLogger(events repository.EventRepository, pool *pgxpool.Pool, log *slog.Logger) *Logger {
	return &Logger{events: events, pool: pool, log: log}
}

// Record inserts one event. Errors are logged, never returned.
func (l *Logger) Record(ctx context.Context, targetID string, runID *string, eventType models.EventType, detail any, actor string) {
	if _, err := l.events.Insert(ctx, l.pool, targetID, runID, eventType, detail, actor); err != nil {
		l.log.Warn("audit insert failed",
			"event_type", eventType,
			"target_id", targetID,
			"error", err)
	}
}

func (l *Logger) PipelineTriggered(ctx context.Context, targetID, runID, jobID, actor string, trigger models.RunTrigger) {
	l.Record(ctx, targetID, &runID, models.EventPipelineTriggered, map[string]any{
		"job_id":  jobID,
		"trigger": trigger,
	}, actor)
}

func (l *Logger) PipelineStarted(ctx context.Context, targetID, runID, workerID string) {
	l.Record(ctx, targetID, &runID, models.EventPipelineStarted, nil, workerID)
}

func (l *Logger) PipelineCompleted(ctx context.Context, targetID, runID, workerID string, status models.RunStatus, detail any) {
	l.Record(ctx, targetID, &runID, models.EventPipelineCompleted, map[string]any{
		"status": status,
		"stats":  detail,
	}, workerID)
}

func (l *Logger) ScanStarted(ctx context.Context, targetID string, runID *string, scanID, scannerName, scanTarget string) {
	l.Record(ctx, targetID, runID, models.EventScanStarted, map[string]any{
		"scan_id":     scanID,
		"scanner":     scannerName,
		"scan_target": scanTarget,
	}, "")
}

func (l *Logger) ScanCompleted(ctx context.Context, targetID string, runID *string, scanID, scannerName string, status models.ScanStatus) {
	l.Record(ctx, targetID, runID, models.EventScanCompleted, map[string]any{
		"scan_id": scanID,
		"scanner": scannerName,
		"status":  status,
	}, "")
}

func (l *Logger) JobClaimed(ctx context.Context, job *models.Job, workerID string) {
	l.Record(ctx, job.TargetID, job.RunID, models.EventJobClaimed, map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempt":  job.Attempts,
	}, workerID)
}

func (l *Logger) JobCompleted(ctx context.Context, job *models.Job, workerID string) {
	l.Record(ctx, job.TargetID, job.RunID, models.EventJobCompleted, map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
	}, workerID)
}

func (l *Logger) JobFailed(ctx context.Context, job *models.Job, workerID, jobErr string, willRetry bool) {
	l.Record(ctx, job.TargetID, job.RunID, models.EventJobFailed, map[string]any{
		"job_id":     job.ID,
		"job_type":   job.Type,
		"attempt":    job.Attempts,
		"error":      jobErr,
		"will_retry": willRetry,
	}, workerID)
}

func (l *Logger) RunDiscarded(ctx context.Context, targetID, runID, actor string, cancelledJobs int64) {
	l.Record(ctx, targetID, &runID, models.EventRunDiscarded, map[string]any{
		"cancelled_jobs": cancelledJobs,
	}, actor)
}
