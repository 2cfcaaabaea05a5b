// Package scanner defines the adapter contract external probes implement
// and the artifact types they report. The core treats every probe as an
// opaque producer of a Result; adapters are responsible for normalizing
// the keys they emit.
package scanner

import (
	"context"
	"time"
)

// Status of a single probe execution.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AssetArtifact is an observed inventory node. Normalized must already be
// canonical (see internal/normalize); the inventory store does not
// re-normalize.
type AssetArtifact struct {
	Type       string `json:"type"` // subdomain, host, ip, url
	Value      string `json:"value"`
	Normalized string `json:"normalized"`
}

// ServiceArtifact is an observed open port on a host.
type ServiceArtifact struct {
	HostType       string `json:"host_type"` // host, ip, subdomain
	HostValue      string `json:"host_value"`
	HostNormalized string `json:"host_normalized"`
	Port           int    `json:"port"`
	Proto          string `json:"proto"` // tcp, udp
	Name           string `json:"name,omitempty"`
	Product        string `json:"product,omitempty"`
	Version        string `json:"version,omitempty"`
}

// EdgeArtifact is an observed relationship between two assets.
type EdgeArtifact struct {
	FromType       string `json:"from_type"`
	FromValue      string `json:"from_value"`
	FromNormalized string `json:"from_normalized"`
	ToType         string `json:"to_type"`
	ToValue        string `json:"to_value"`
	ToNormalized   string `json:"to_normalized"`
	RelType        string `json:"rel_type"` // resolves_to, cname_to, serves, redirects_to
}

// FindingArtifact is a vulnerability observation.
type FindingArtifact struct {
	Severity    string  `json:"severity"` // critical, high, medium, low, info
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Impact      string  `json:"impact,omitempty"`
	Evidence    string  `json:"evidence,omitempty"`
	Remediation string  `json:"remediation,omitempty"`
	URL         string  `json:"url,omitempty"`
	CVE         string  `json:"cve,omitempty"`
	CVSSScore   float64 `json:"cvss_score,omitempty"`
}

// Result is the uniform output of every adapter.
type Result struct {
	Scanner     string            `json:"scanner"`
	Target      string            `json:"target"`
	Status      string            `json:"status"`
	RawOutput   string            `json:"raw_output,omitempty"`
	Findings    []FindingArtifact `json:"findings,omitempty"`
	Assets      []AssetArtifact   `json:"assets,omitempty"`
	Services    []ServiceArtifact `json:"services,omitempty"`
	Edges       []EdgeArtifact    `json:"edges,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
}

// Config carries per-invocation adapter settings.
type Config struct {
	// Targets overrides the single positional target for batch-capable
	// scanners (httpx, nuclei).
	Targets []string `json:"targets,omitempty"`
	// ScanType selects an adapter-specific mode (e.g. nmap "service").
	ScanType string `json:"scan_type,omitempty"`
}

// StreamFunc receives raw output lines as a probe produces them. Streaming
// is advisory; the core neither caches nor replays streams.
type StreamFunc func(line string)

// Scanner is the adapter contract. Run blocks until the probe finishes or
// its timeout fires; a probe failure is reported in Result.Status, not as
// an error (errors are reserved for invariant violations).
type Scanner interface {
	Name() string
	Run(ctx context.Context, target string, cfg Config, stream StreamFunc) (*Result, error)
}

// Registry maps scanner names to adapters.
type Registry map[string]Scanner

// Register adds an adapter under its name.
func (r Registry) Register(s Scanner) {
	r[s.Name()] = s
}

// Get returns the adapter for a name, or nil.
func (r Registry) Get(name string) Scanner {
	return r[name]
}
