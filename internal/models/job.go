package models

import (
	"encoding/json"
	"time"
)

// JobType identifies the unit of work a queued job performs.
type JobType string

const (
	JobRunPipeline   JobType = "run_pipeline"
	JobVerifyAsset   JobType = "verify_asset"
	JobVerifyService JobType = "verify_service"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is a claimable unit of work. While status is running, LockedBy is
// non-empty; Attempts only ever increases.
type Job struct {
	ID          string          `json:"id" db:"id"`
	Type        JobType         `json:"type" db:"type"`
	Status      JobStatus       `json:"status" db:"status"`
	TargetID    string          `json:"target_id" db:"target_id"`
	RunID       *string         `json:"run_id,omitempty" db:"run_id"`
	Payload     json.RawMessage `json:"payload,omitempty" db:"payload"`
	AvailableAt *time.Time      `json:"available_at,omitempty" db:"available_at"`
	LockedAt    *time.Time      `json:"locked_at,omitempty" db:"locked_at"`
	LockedBy    *string         `json:"locked_by,omitempty" db:"locked_by"`
	Attempts    int             `json:"attempts" db:"attempts"`
	LastError   *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// PipelinePayload is the payload for run_pipeline jobs.
type PipelinePayload struct {
	MaxHosts       int  `json:"max_hosts,omitempty"`
	MaxHTTPTargets int  `json:"max_http_targets,omitempty"`
	Scheduled      bool `json:"scheduled,omitempty"`
}

// VerifyAssetPayload is the payload for verify_asset jobs.
type VerifyAssetPayload struct {
	AssetID string `json:"asset_id"`
}

// VerifyServicePayload is the payload for verify_service jobs.
type VerifyServicePayload struct {
	ServiceID string `json:"service_id"`
}
