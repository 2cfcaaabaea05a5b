package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Good-Security/shadowpulse/internal/database"
	"github.com/Good-Security/shadowpulse/internal/models"
)

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

func newTestLogger(events *mockEventRepo) *Logger {
	return NewLogger(events, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestScanStartedEmitsEvent(t *testing.T) {
	events := &mockEventRepo{}
	l := newTestLogger(events)
	runID := "01RUN"

	events.On("Insert", mock.Anything, mock.Anything, "01TGT", &runID, models.EventScanStarted,
		mock.MatchedBy(func(detail any) bool {
			d, ok := detail.(map[string]any)
			return ok && d["scan_id"] == "01SCAN" && d["scanner"] == "nmap" && d["scan_target"] == "10.0.0.1"
		}), "").Return(&models.RunEvent{}, nil)

	l.ScanStarted(context.Background(), "01TGT", &runID, "01SCAN", "nmap", "10.0.0.1")

	events.AssertExpectations(t)
}

func TestScanCompletedEmitsEvent(t *testing.T) {
	events := &mockEventRepo{}
	l := newTestLogger(events)
	runID := "01RUN"

	events.On("Insert", mock.Anything, mock.Anything, "01TGT", &runID, models.EventScanCompleted,
		mock.MatchedBy(func(detail any) bool {
			d, ok := detail.(map[string]any)
			return ok && d["scan_id"] == "01SCAN" && d["status"] == models.ScanFailed
		}), "").Return(&models.RunEvent{}, nil)

	l.ScanCompleted(context.Background(), "01TGT", &runID, "01SCAN", "nmap", models.ScanFailed)

	events.AssertExpectations(t)
}

// Audit writes are best-effort; a failed insert must not propagate.
func TestRecordSwallowsInsertError(t *testing.T) {
	events := &mockEventRepo{}
	l := newTestLogger(events)

	events.On("Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("db down"))

	assert.NotPanics(t, func() {
		l.Record(context.Background(), "01TGT", nil, models.EventPipelineStarted, nil, "worker-test")
	})
	events.AssertExpectations(t)
}
