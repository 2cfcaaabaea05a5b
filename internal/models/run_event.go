package models

import (
	"encoding/json"
	"time"
)

// EventType classifies audit-trail events emitted by the core.
type EventType string

const (
	EventPipelineTriggered EventType = "pipeline_triggered"
	EventPipelineStarted   EventType = "pipeline_started"
	EventPipelineCompleted EventType = "pipeline_completed"
	EventScanStarted       EventType = "scan_started"
	EventScanCompleted     EventType = "scan_completed"
	EventJobClaimed        EventType = "job_claimed"
	EventJobCompleted      EventType = "job_completed"
	EventJobFailed         EventType = "job_failed"
	EventRunDiscarded      EventType = "run_discarded"
)

// RunEvent is an append-only audit record. Events are never mutated and are
// not used for state transitions.
type RunEvent struct {
	ID        string          `json:"id" db:"id"`
	TargetID  string          `json:"target_id" db:"target_id"`
	RunID     *string         `json:"run_id,omitempty" db:"run_id"`
	EventType EventType       `json:"event_type" db:"event_type"`
	Detail    json.RawMessage `json:"detail,omitempty" db:"detail"`
	Actor     string          `json:"actor" db:"actor"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
