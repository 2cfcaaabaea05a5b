package models

import "time"

// ScanStatus is the execution state of a single probe invocation.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Scan records one probe execution: which scanner ran against what, its raw
// output (truncated, subject to retention) and timing.
type Scan struct {
	ID          string     `json:"id" db:"id"`
	TargetID    string     `json:"target_id" db:"target_id"`
	RunID       *string    `json:"run_id,omitempty" db:"run_id"`
	Scanner     string     `json:"scanner" db:"scanner"`
	ScanTarget  string     `json:"scan_target" db:"scan_target"`
	Status      ScanStatus `json:"status" db:"status"`
	Config      *string    `json:"config,omitempty" db:"config"`
	RawOutput   *string    `json:"raw_output,omitempty" db:"raw_output"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// MaxRawOutput caps how much raw scanner output is persisted per scan.
const MaxRawOutput = 50000
