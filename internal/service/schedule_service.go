package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Good-Security/shadowpulse/internal/models"
	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"
	"github.com/Good-Security/shadowpulse/internal/repository"
)

// CreateScheduleRequest registers a recurring pipeline.
type CreateScheduleRequest struct {
	TargetID        string          `json:"target_id" validate:"required"`
	IntervalSeconds int             `json:"interval_seconds" validate:"required,min=60"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	PipelineConfig  json.RawMessage `json:"pipeline_config,omitempty"`
}

// UpdateScheduleRequest patches a schedule; nil fields are unchanged.
type UpdateScheduleRequest struct {
	Enabled         *bool           `json:"enabled,omitempty"`
	IntervalSeconds *int            `json:"interval_seconds,omitempty" validate:"omitempty,min=60"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	PipelineConfig  json.RawMessage `json:"pipeline_config,omitempty"`
}

// ScheduleService manages recurring pipeline schedules.
type ScheduleService interface {
	Create(ctx context.Context, req CreateScheduleRequest) (*models.Schedule, error)
	Get(ctx context.Context, id string) (*models.Schedule, error)
	Update(ctx context.Context, id string, req UpdateScheduleRequest) (*models.Schedule, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, targetID string) ([]*models.Schedule, error)
}

type scheduleService struct {
	targets   repository.TargetRepository
	schedules repository.ScheduleRepository
}

// NewScheduleService creates a schedule service.
func NewScheduleService(targets repository.TargetRepository, schedules repository.ScheduleRepository) ScheduleService {
	return &scheduleService{targets: targets, schedules: schedules}
}

func (s *scheduleService) Create(ctx context.Context, req CreateScheduleRequest) (*models.Schedule, error) {
	target, err := s.targets.GetByID(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("target %s: %w", req.TargetID, apierrors.ErrNotFound)
	}
	return s.schedules.Create(ctx, req.TargetID, req.IntervalSeconds, req.NextRunAt, req.PipelineConfig)
}

func (s *scheduleService) Get(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, fmt.Errorf("schedule %s: %w", id, apierrors.ErrNotFound)
	}
	return schedule, nil
}

func (s *scheduleService) Update(ctx context.Context, id string, req UpdateScheduleRequest) (*models.Schedule, error) {
	schedule, err := s.schedules.Update(ctx, id, repository.ScheduleUpdate{
		Enabled:         req.Enabled,
		IntervalSeconds: req.IntervalSeconds,
		NextRunAt:       req.NextRunAt,
		PipelineConfig:  req.PipelineConfig,
	})
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, fmt.Errorf("schedule %s: %w", id, apierrors.ErrNotFound)
	}
	return schedule, nil
}

func (s *scheduleService) Delete(ctx context.Context, id string) error {
	deleted, err := s.schedules.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("schedule %s: %w", id, apierrors.ErrNotFound)
	}
	return nil
}

func (s *scheduleService) List(ctx context.Context, targetID string) ([]*models.Schedule, error) {
	return s.schedules.List(ctx, targetID)
}

var _ ScheduleService = (*scheduleService)(nil)
