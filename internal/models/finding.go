package models

import "time"

// Finding is a vulnerability observation produced by a scan adapter. It is
// persisted for consumers but opaque to the inventory state machine.
type Finding struct {
	ID          string    `json:"id" db:"id"`
	ScanID      *string   `json:"scan_id,omitempty" db:"scan_id"`
	TargetID    string    `json:"target_id" db:"target_id"`
	RunID       *string   `json:"run_id,omitempty" db:"run_id"`
	AssetID     *string   `json:"asset_id,omitempty" db:"asset_id"`
	Severity    string    `json:"severity" db:"severity"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	Impact      string    `json:"impact,omitempty" db:"impact"`
	Evidence    string    `json:"evidence,omitempty" db:"evidence"`
	Remediation string    `json:"remediation,omitempty" db:"remediation"`
	URL         string    `json:"url,omitempty" db:"url"`
	CVE         string    `json:"cve,omitempty" db:"cve"`
	CVSSScore   float64   `json:"cvss_score,omitempty" db:"cvss_score"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
