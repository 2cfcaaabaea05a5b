package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Good-Security/shadowpulse/internal/audit"
	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/models"
	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"
	"github.com/Good-Security/shadowpulse/internal/scanner"
)

type mockTargetRepo struct{ mock.Mock }

func (m *mockTargetRepo) Create(ctx context.Context, name, rootDomain string, scope json.RawMessage) (*models.Target, error) {
	args := m.Called(ctx, name, rootDomain, scope)
	t, _ := args.Get(0).(*models.Target)
	return t, args.Error(1)
}

func (m *mockTargetRepo) GetByID(ctx context.Context, id string) (*models.Target, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*models.Target)
	return t, args.Error(1)
}

func (m *mockTargetRepo) GetByRootDomain(ctx context.Context, rootDomain string) (*models.Target, error) {
	args := m.Called(ctx, rootDomain)
	t, _ := args.Get(0).(*models.Target)
	return t, args.Error(1)
}

func (m *mockTargetRepo) GetOrCreate(ctx context.Context, name, rootDomain string, scope json.RawMessage) (*models.Target, bool, error) {
	args := m.Called(ctx, name, rootDomain, scope)
	t, _ := args.Get(0).(*models.Target)
	return t, args.Bool(1), args.Error(2)
}

func (m *mockTargetRepo) UpdateScope(ctx context.Context, id string, scope json.RawMessage) (*models.Target, error) {
	args := m.Called(ctx, id, scope)
	t, _ := args.Get(0).(*models.Target)
	return t, args.Error(1)
}

func (m *mockTargetRepo) List(ctx context.Context, limit int) ([]*models.Target, error) {
	args := m.Called(ctx, limit)
	targets, _ := args.Get(0).([]*models.Target)
	return targets, args.Error(1)
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

type mockScanRepo struct{ mock.Mock }

func (m *mockScanRepo) Start(ctx context.Context, targetID string, runID *string, scannerName, scanTarget string, config *string) (*models.Scan, error) {
	args := m.Called(ctx, targetID, runID, scannerName, scanTarget, config)
	s, _ := args.Get(0).(*models.Scan)
	return s, args.Error(1)
}

func (m *mockScanRepo) Finish(ctx context.Context, id string, status models.ScanStatus, rawOutput string) error {
	return m.Called(ctx, id, status, rawOutput).Error(0)
}

func (m *mockScanRepo) GetByID(ctx context.Context, id string) (*models.Scan, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*models.Scan)
	return s, args.Error(1)
}

func (m *mockScanRepo) List(ctx context.Context, targetID, runID string, limit int) ([]*models.Scan, error) {
	args := m.Called(ctx, targetID, runID, limit)
	scans, _ := args.Get(0).([]*models.Scan)
	return scans, args.Error(1)
}

func (m *mockScanRepo) PurgeRawOutput(ctx context.Context, q database.Querier, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, q, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockScanRepo) DeleteOlderThan(ctx context.Context, q database.Querier, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, q, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockScanRepo) RecoverOrphaned(ctx context.Context, q database.Querier) (int64, error) {
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

func newTestEngine(targets *mockTargetRepo, runs *mockRunRepo, scans *mockScanRepo, events *mockEventRepo) *Engine {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	events.On("Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.RunEvent{}, nil).Maybe()
	return NewEngine(nil, targets, runs, nil, scans, nil, nil,
		audit.NewLogger(events, nil, log),
		scanner.Registry{}, nil, DefaultVerifyPolicy(), log)
}

func pipelineJob() *models.Job {
	runID := "01RUN"
	return &models.Job{
		ID:       "01JOB",
		Type:     models.JobRunPipeline,
		Status:   models.JobRunning,
		TargetID: "01TGT",
		RunID:    &runID,
		Attempts: 2,
	}
}

func engineTarget() *models.Target {
	return &models.Target{ID: "01TGT", Name: "example", RootDomain: "example.com"}
}

// A retried attempt must resume a run its failed predecessor left in
// running state; MarkRunning's queued-only guard returning false is not
// grounds to skip execution.
func TestExecuteResumesRunLeftRunning(t *testing.T) {
	targets := &mockTargetRepo{}
	runs := &mockRunRepo{}
	scans := &mockScanRepo{}
	events := &mockEventRepo{}
	e := newTestEngine(targets, runs, scans, events)

	targets.On("GetByID", mock.Anything, "01TGT").Return(engineTarget(), nil)
	runs.On("MarkRunning", mock.Anything, "01RUN").Return(false, nil)
	runs.On("GetStatus", mock.Anything, "01RUN").Return(models.RunRunning, nil).Once()
	// Recording the first scan fails, so stage 1 yields nothing; the
	// cancellation check after it sees the run externally cancelled.
	scans.On("Start", mock.Anything, "01TGT", mock.Anything, "subfinder", "example.com", mock.Anything).
		Return(nil, errors.New("db down")).Once()
	runs.On("GetStatus", mock.Anything, "01RUN").Return(models.RunCancelled, nil).Once()

	err := e.Execute(context.Background(), pipelineJob(), "worker-test")

	assert.ErrorIs(t, err, apierrors.ErrCancelled)
	scans.AssertExpectations(t)
	runs.AssertExpectations(t)
}

func TestExecuteAbortsDiscardedRun(t *testing.T) {
	targets := &mockTargetRepo{}
	runs := &mockRunRepo{}
	scans := &mockScanRepo{}
	events := &mockEventRepo{}
	e := newTestEngine(targets, runs, scans, events)

	targets.On("GetByID", mock.Anything, "01TGT").Return(engineTarget(), nil)
	runs.On("MarkRunning", mock.Anything, "01RUN").Return(false, nil)
	runs.On("GetStatus", mock.Anything, "01RUN").Return(models.RunDiscarded, nil)

	err := e.Execute(context.Background(), pipelineJob(), "worker-test")

	assert.ErrorIs(t, err, apierrors.ErrCancelled)
	scans.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteRejectsTerminalRun(t *testing.T) {
	targets := &mockTargetRepo{}
	runs := &mockRunRepo{}
	scans := &mockScanRepo{}
	events := &mockEventRepo{}
	e := newTestEngine(targets, runs, scans, events)

	targets.On("GetByID", mock.Anything, "01TGT").Return(engineTarget(), nil)
	runs.On("MarkRunning", mock.Anything, "01RUN").Return(false, nil)
	runs.On("GetStatus", mock.Anything, "01RUN").Return(models.RunCompleted, nil)

	err := e.Execute(context.Background(), pipelineJob(), "worker-test")

	assert.Error(t, err)
	assert.NotErrorIs(t, err, apierrors.ErrCancelled)
	assert.Contains(t, err.Error(), "cannot start")
	scans.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
