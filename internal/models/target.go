package models

import (
	"encoding/json"
	"time"
)

// Target represents a registered reconnaissance target: a root domain plus
// the scope policy that bounds what the platform may probe.
type Target struct {
	ID         string          `json:"id" db:"id"`
	Name       string          `json:"name" db:"name"`
	RootDomain string          `json:"root_domain" db:"root_domain"`
	Scope      json.RawMessage `json:"scope,omitempty" db:"scope"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}
