package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Good-Security/shadowpulse/internal/audit"
	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/repository"
)

type mockJobRepo struct{ mock.Mock }

func (m *mockJobRepo) Enqueue(ctx context.Context, q database.Querier, p repository.EnqueueParams) (*models.Job, error) {
	args := m.Called(ctx, q, p)
	j, _ := args.Get(0).(*models.Job)
	return j, args.Error(1)
}

func (m *mockJobRepo) ClaimNext(ctx context.Context, tx pgx.Tx, workerID string, limits repository.ClaimLimits) (*models.Job, error) {
	args := m.Called(ctx, tx, workerID, limits)
	j, _ := args.Get(0).(*models.Job)
	return j, args.Error(1)
}

func (m *mockJobRepo) Complete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockJobRepo) Fail(ctx context.Context, id string, jobErr string, retryIn *time.Duration) error {
	return m.Called(ctx, id, jobErr, retryIn).Error(0)
}

func (m *mockJobRepo) Cancel(ctx context.Context, id string, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}

func (m *mockJobRepo) CancelForRun(ctx context.Context, q database.Querier, runID string, reason string) (int64, error) {
	args := m.Called(ctx, q, runID, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockJobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	args := m.Called(ctx, id)
	j, _ := args.Get(0).(*models.Job)
	return j, args.Error(1)
}

func (m *mockJobRepo) List(ctx context.Context, targetID string, status models.JobStatus, limit int) ([]*models.Job, error) {
	args := m.Called(ctx, targetID, status, limit)
	jobs, _ := args.Get(0).([]*models.Job)
	return jobs, args.Error(1)
}

func (m *mockJobRepo) CountRunning(ctx context.Context, q database.Querier, targetID string) (int, error) {
	args := m.Called(ctx, q, targetID)
	return args.Int(0), args.Error(1)
}

func (m *mockJobRepo) RecoverOrphaned(ctx context.Context, q database.Querier, lastError string, minLockAge time.Duration) (int64, error) {
	args := m.Called(ctx, q, lastError, minLockAge)
	return args.Get(0).(int64), args.Error(1)
}

type mockRunRepo struct{ mock.Mock }

func (m *mockRunRepo) Create(ctx context.Context, q database.Querier, targetID string, trigger models.RunTrigger) (*models.Run, error) {
	args := m.Called(ctx, q, targetID, trigger)
	r, _ := args.Get(0).(*models.Run)
	return r, args.Error(1)
}

func (m *mockRunRepo) GetByID(ctx context.Context, id string) (*models.Run, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*models.Run)
	return r, args.Error(1)
}

func (m *mockRunRepo) GetStatus(ctx context.Context, id string) (models.RunStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.RunStatus), args.Error(1)
}

func (m *mockRunRepo) MarkRunning(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRunRepo) MarkTerminal(ctx context.Context, id string, status models.RunStatus) (bool, error) {
	args := m.Called(ctx, id, status)
	return args.Bool(0), args.Error(1)
}

func (m *mockRunRepo) SetCompletedAt(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRunRepo) Discard(ctx context.Context, q database.Querier, id string) (bool, error) {
	args := m.Called(ctx, q, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRunRepo) List(ctx context.Context, targetID string, limit int) ([]*models.Run, error) {
	args := m.Called(ctx, targetID, limit)
	runs, _ := args.Get(0).([]*models.Run)
	return runs, args.Error(1)
}

func (m *mockRunRepo) RecoverOrphaned(ctx context.Context, q database.Querier) (int64, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(int64), args.Error(1)
}

type mockEventRepo struct{ mock.Mock }

func (m *mockEventRepo) Insert(ctx context.Context, q database.Querier, targetID string, runID *string, eventType models.EventType, detail any, actor string) (*models.RunEvent, error) {
	args := m.Called(ctx, q, targetID, runID, eventType, detail, actor)
	e, _ := args.Get(0).(*models.RunEvent)
	return e, args.Error(1)
}

func (m *mockEventRepo) List(ctx context.Context, targetID, runID string, limit int) ([]*models.RunEvent, error) {
	args := m.Called(ctx, targetID, runID, limit)
	events, _ := args.Get(0).([]*models.RunEvent)
	return events, args.Error(1)
}

func newTestWorker(jobs *mockJobRepo, runs *mockRunRepo, events *mockEventRepo) *Worker {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	events.On("Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.RunEvent{}, nil).Maybe()
	return New(nil, jobs, runs, nil, nil, nil,
		audit.NewLogger(events, nil, log),
		Config{WorkerID: "worker-test", PollInterval: time.Millisecond, Limits: repository.ClaimLimits{Global: 5, PerTarget: 2}},
		log)
}

func pipelineJob(attempts int) *models.Job {
	runID := "01RUN"
	return &models.Job{
		ID:       "01JOB",
		Type:     models.JobRunPipeline,
		Status:   models.JobRunning,
		TargetID: "01TGT",
		RunID:    &runID,
		Attempts: attempts,
	}
}

func TestFailRetriesWithBackoff(t *testing.T) {
	jobs := &mockJobRepo{}
	runs := &mockRunRepo{}
	events := &mockEventRepo{}
	w := newTestWorker(jobs, runs, events)

	jobs.On("Fail", mock.Anything, "01JOB", "boom", mock.MatchedBy(func(d *time.Duration) bool {
		return d != nil && *d == 10*time.Second
	})).Return(nil)

	w.fail(context.Background(), pipelineJob(1), errors.New("boom"))

	jobs.AssertExpectations(t)
	runs.AssertNotCalled(t, "MarkTerminal", mock.Anything, mock.Anything, mock.Anything)
}

func TestFailTerminalAfterMaxAttempts(t *testing.T) {
	jobs := &mockJobRepo{}
	runs := &mockRunRepo{}
	events := &mockEventRepo{}
	w := newTestWorker(jobs, runs, events)

	jobs.On("Fail", mock.Anything, "01JOB", "boom", (*time.Duration)(nil)).Return(nil)
	runs.On("MarkTerminal", mock.Anything, "01RUN", models.RunFailed).Return(true, nil)

	w.fail(context.Background(), pipelineJob(3), errors.New("boom"))

	jobs.AssertExpectations(t)
	runs.AssertExpectations(t)
}

func TestFailInvariantViolationNeverRetries(t *testing.T) {
	jobs := &mockJobRepo{}
	runs := &mockRunRepo{}
	events := &mockEventRepo{}
	w := newTestWorker(jobs, runs, events)

	jobs.On("Fail", mock.Anything, "01JOB", mock.Anything, (*time.Duration)(nil)).Return(nil)
	runs.On("MarkTerminal", mock.Anything, "01RUN", models.RunFailed).Return(true, nil)

	// First attempt, but an invariant violation is terminal immediately.
	w.fail(context.Background(), pipelineJob(1), &invariantError{msg: "unknown job type: bogus"})

	jobs.AssertExpectations(t)
	runs.AssertExpectations(t)
}

func TestHandleUnknownJobTypeFailsTerminally(t *testing.T) {
	jobs := &mockJobRepo{}
	runs := &mockRunRepo{}
	events := &mockEventRepo{}
	w := newTestWorker(jobs, runs, events)

	job := &models.Job{ID: "01JOB", Type: "bogus", TargetID: "01TGT", Attempts: 1}
	jobs.On("Fail", mock.Anything, "01JOB", mock.Anything, (*time.Duration)(nil)).Return(nil)

	w.handle(context.Background(), job)

	jobs.AssertExpectations(t)
	jobs.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestHandleCancelledPreservesRunStatus(t *testing.T) {
	jobs := &mockJobRepo{}
	runs := &mockRunRepo{}
	events := &mockEventRepo{}
	w := newTestWorker(jobs, runs, events)

	// dispatch cannot be cancelled without an engine; exercise the
	// cancellation arm through fail-free paths instead.
	job := pipelineJob(1)
	jobs.On("Cancel", mock.Anything, "01JOB", mock.Anything).Return(nil)
	runs.On("SetCompletedAt", mock.Anything, "01RUN").Return(nil)

	w.finishCancelled(context.Background(), job, errors.New("run 01RUN is discarded: operation cancelled"))

	jobs.AssertExpectations(t)
	runs.AssertExpectations(t)
	runs.AssertNotCalled(t, "MarkTerminal", mock.Anything, mock.Anything, mock.Anything)
}

func TestBoolLabel(t *testing.T) {
	assert.Equal(t, "true", boolLabel(true))
	assert.Equal(t, "false", boolLabel(false))
}
