package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/audit"
	"github.com/Good-Security/shadowpulse/internal/models"
	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"
	"github.com/Good-Security/shadowpulse/internal/repository"
	"github.com/Good-Security/shadowpulse/internal/scope"
)

// TriggerRequest asks for a manual pipeline run. Exactly one of TargetID
// and RootDomain must be set; a root domain bootstraps the target when it
// does not exist yet.
type TriggerRequest struct {
	TargetID       string `json:"target_id" validate:"omitempty"`
	RootDomain     string `json:"root_domain" validate:"omitempty,fqdn"`
	MaxHosts       int    `json:"max_hosts" validate:"omitempty,min=1,max=1000"`
	MaxHTTPTargets int    `json:"max_http_targets" validate:"omitempty,min=1,max=5000"`
	Actor          string `json:"-"`
}

// TriggerResponse reports the created run and its job.
type TriggerResponse struct {
	Run *models.Run `json:"run"`
	Job *models.Job `json:"job"`
}

// PipelineService triggers and discards runs and cancels jobs.
type PipelineService interface {
	Trigger(ctx context.Context, req TriggerRequest) (*TriggerResponse, error)
	DiscardRun(ctx context.Context, runID, actor string) (*models.Run, error)
	CancelJob(ctx context.Context, jobID, reason string) (*models.Job, error)
}

type pipelineService struct {
	pool    *pgxpool.Pool
	targets TargetService
	runs    repository.RunRepository
	jobs    repository.JobRepository
	audit   *audit.Logger
}

// NewPipelineService creates a pipeline service.
func NewPipelineService(pool *pgxpool.Pool, targets TargetService, runs repository.RunRepository, jobs repository.JobRepository, auditLog *audit.Logger) PipelineService {
	return &pipelineService{pool: pool, targets: targets, runs: runs, jobs: jobs, audit: auditLog}
}

// Trigger validates scope, then creates the queued run and its
// run_pipeline job in one transaction. Nothing is created on a scope
// violation.
func (s *pipelineService) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResponse, error) {
	var target *models.Target
	var err error
	switch {
	case req.TargetID != "":
		target, err = s.targets.Get(ctx, req.TargetID)
	case req.RootDomain != "":
		target, err = s.targets.GetOrCreateByRootDomain(ctx, req.RootDomain)
	default:
		return nil, apierrors.NewValidationError("target_id", "target_id or root_domain is required")
	}
	if err != nil {
		return nil, err
	}

	scopeCfg, err := scope.Parse(target.Scope, target.RootDomain)
	if err != nil {
		return nil, err
	}
	if err := scopeCfg.Check(target.RootDomain, scope.KindDomain); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin trigger transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	run, err := s.runs.Create(ctx, tx, target.ID, models.TriggerManual)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.Enqueue(ctx, tx, repository.EnqueueParams{
		Type:     models.JobRunPipeline,
		TargetID: target.ID,
		RunID:    &run.ID,
		Payload: models.PipelinePayload{
			MaxHosts:       req.MaxHosts,
			MaxHTTPTargets: req.MaxHTTPTargets,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit trigger transaction: %w", err)
	}

	s.audit.PipelineTriggered(ctx, target.ID, run.ID, job.ID, req.Actor, models.TriggerManual)
	return &TriggerResponse{Run: run, Job: job}, nil
}

// DiscardRun transitions a live run to discarded and cancels its queued
// and running jobs, all in one transaction. Discarding an already
// terminal run is a conflict.
func (s *pipelineService) DiscardRun(ctx context.Context, runID, actor string) (*models.Run, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s: %w", runID, apierrors.ErrNotFound)
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s is already %s: %w", runID, run.Status, apierrors.ErrConflict)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin discard transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	discarded, err := s.runs.Discard(ctx, tx, runID)
	if err != nil {
		return nil, err
	}
	if !discarded {
		return nil, fmt.Errorf("run %s is already terminal: %w", runID, apierrors.ErrConflict)
	}
	cancelled, err := s.jobs.CancelForRun(ctx, tx, runID, "run discarded")
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit discard transaction: %w", err)
	}

	s.audit.RunDiscarded(ctx, run.TargetID, runID, actor, cancelled)
	return s.runs.GetByID(ctx, runID)
}

// CancelJob cancels one job from any non-terminal state.
func (s *pipelineService) CancelJob(ctx context.Context, jobID, reason string) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, apierrors.ErrNotFound)
	}
	if err := s.jobs.Cancel(ctx, jobID, reason); err != nil {
		return nil, err
	}
	return s.jobs.GetByID(ctx, jobID)
}

var _ PipelineService = (*pipelineService)(nil)
