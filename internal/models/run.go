package models

import "time"

// RunTrigger describes what started a run.
type RunTrigger string

const (
	TriggerManual    RunTrigger = "manual"
	TriggerScheduled RunTrigger = "scheduled"
)

// RunStatus is the lifecycle state of a run. Terminal states are absorbing.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunDiscarded RunStatus = "discarded"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunDiscarded, RunCancelled:
		return true
	}
	return false
}

// Run is one logical sweep of the reconnaissance pipeline against one
// target; the provenance unit for asset/service/edge observations.
type Run struct {
	ID          string     `json:"id" db:"id"`
	TargetID    string     `json:"target_id" db:"target_id"`
	Trigger     RunTrigger `json:"trigger" db:"trigger"`
	Status      RunStatus  `json:"status" db:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
