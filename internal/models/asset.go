package models

import "time"

// AssetType is the kind of inventory node.
type AssetType string

const (
	AssetSubdomain AssetType = "subdomain"
	AssetHost      AssetType = "host"
	AssetIP        AssetType = "ip"
	AssetURL       AssetType = "url"
)

// ArtifactStatus is the differential lifecycle state shared by assets and
// services: active (seen), stale (missed, verification pending), closed
// (verified dead) and unresolved (name no longer resolves).
type ArtifactStatus string

const (
	StatusActive     ArtifactStatus = "active"
	StatusStale      ArtifactStatus = "stale"
	StatusClosed     ArtifactStatus = "closed"
	StatusUnresolved ArtifactStatus = "unresolved"
)

// Protocol is a service transport protocol.
type Protocol string

const (
	ProtoTCP Protocol = "tcp"
	ProtoUDP Protocol = "udp"
)

// RelType is the relationship kind of an inventory edge.
type RelType string

const (
	RelResolvesTo  RelType = "resolves_to"
	RelCNAMETo     RelType = "cname_to"
	RelServes      RelType = "serves"
	RelRedirectsTo RelType = "redirects_to"
)

// Asset is an inventory node, deduplicated by (target_id, type, normalized).
// Value preserves the original observed string; Normalized is the dedup key.
// FirstSeen fields are write-once.
type Asset struct {
	ID            string         `json:"id" db:"id"`
	TargetID      string         `json:"target_id" db:"target_id"`
	Type          AssetType      `json:"type" db:"type"`
	Value         string         `json:"value" db:"value"`
	Normalized    string         `json:"normalized" db:"normalized"`
	FirstSeenRun  *string        `json:"first_seen_run_id,omitempty" db:"first_seen_run_id"`
	LastSeenRun   *string        `json:"last_seen_run_id,omitempty" db:"last_seen_run_id"`
	FirstSeenAt   *time.Time     `json:"first_seen_at,omitempty" db:"first_seen_at"`
	LastSeenAt    *time.Time     `json:"last_seen_at,omitempty" db:"last_seen_at"`
	Status        ArtifactStatus `json:"status" db:"status"`
	StatusReason  *string        `json:"status_reason,omitempty" db:"status_reason"`
	VerifiedAt    *time.Time     `json:"verified_at,omitempty" db:"verified_at"`
	VerifiedRunID *string        `json:"verified_run_id,omitempty" db:"verified_run_id"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Service is an open port on a host/ip asset, deduplicated by
// (target_id, asset_id, port, proto).
type Service struct {
	ID            string         `json:"id" db:"id"`
	TargetID      string         `json:"target_id" db:"target_id"`
	AssetID       string         `json:"asset_id" db:"asset_id"`
	Port          int            `json:"port" db:"port"`
	Proto         Protocol       `json:"proto" db:"proto"`
	Name          *string        `json:"name,omitempty" db:"name"`
	Product       *string        `json:"product,omitempty" db:"product"`
	Version       *string        `json:"version,omitempty" db:"version"`
	FirstSeenRun  *string        `json:"first_seen_run_id,omitempty" db:"first_seen_run_id"`
	LastSeenRun   *string        `json:"last_seen_run_id,omitempty" db:"last_seen_run_id"`
	FirstSeenAt   *time.Time     `json:"first_seen_at,omitempty" db:"first_seen_at"`
	LastSeenAt    *time.Time     `json:"last_seen_at,omitempty" db:"last_seen_at"`
	Status        ArtifactStatus `json:"status" db:"status"`
	StatusReason  *string        `json:"status_reason,omitempty" db:"status_reason"`
	VerifiedAt    *time.Time     `json:"verified_at,omitempty" db:"verified_at"`
	VerifiedRunID *string        `json:"verified_run_id,omitempty" db:"verified_run_id"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Edge is a directed relationship between two assets of the same target,
// deduplicated by (target_id, from_asset_id, to_asset_id, rel_type).
type Edge struct {
	ID           string     `json:"id" db:"id"`
	TargetID     string     `json:"target_id" db:"target_id"`
	FromAssetID  string     `json:"from_asset_id" db:"from_asset_id"`
	ToAssetID    string     `json:"to_asset_id" db:"to_asset_id"`
	RelType      RelType    `json:"rel_type" db:"rel_type"`
	FirstSeenRun *string    `json:"first_seen_run_id,omitempty" db:"first_seen_run_id"`
	LastSeenRun  *string    `json:"last_seen_run_id,omitempty" db:"last_seen_run_id"`
	FirstSeenAt  *time.Time `json:"first_seen_at,omitempty" db:"first_seen_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
