package models

import (
	"encoding/json"
	"time"
)

// Schedule fires a recurring pipeline run for a target. Firing advances
// NextRunAt by IntervalSeconds inside the same transaction that enqueues
// the run_pipeline job.
type Schedule struct {
	ID              string          `json:"id" db:"id"`
	TargetID        string          `json:"target_id" db:"target_id"`
	Enabled         bool            `json:"enabled" db:"enabled"`
	IntervalSeconds int             `json:"interval_seconds" db:"interval_seconds"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty" db:"next_run_at"`
	PipelineConfig  json.RawMessage `json:"pipeline_config,omitempty" db:"pipeline_config"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// MinScheduleInterval is the smallest allowed firing interval.
const MinScheduleInterval = 60
