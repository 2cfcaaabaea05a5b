// Package scope enforces the per-target allow-list. Scope is consulted
// before any external probe is invoked; an out-of-scope target is a
// well-formed error, never a crash.
package scope

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"net/url"
	"path"
	"strings"

	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"
)

// Config is the scope policy attached to a target.
type Config struct {
	RootDomain        string   `json:"root_domain"`
	AllowedDomains    []string `json:"allowed_domains,omitempty"`
	AllowedCIDRs      []string `json:"allowed_cidrs,omitempty"`
	AllowedURLPrefix  []string `json:"allowed_url_prefixes,omitempty"`
	MaxHosts          int      `json:"max_hosts,omitempty"`
	MaxHTTPTargets    int      `json:"max_http_targets,omitempty"`
	MaxConcurrentJobs int      `json:"max_concurrent_jobs,omitempty"`
}

// Default limits applied when the target's scope record omits them.
const (
	DefaultMaxHosts       = 50
	DefaultMaxHTTPTargets = 200
)

// Parse builds a Config from a target's raw scope record, applying
// defaults. A nil or empty record yields root_domain plus its wildcard.
func Parse(raw json.RawMessage, rootDomain string) (Config, error) {
	cfg := Config{RootDomain: rootDomain}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse scope config: %w", err)
		}
	}
	if cfg.RootDomain == "" {
		cfg.RootDomain = rootDomain
	}
	if len(cfg.AllowedDomains) == 0 {
		cfg.AllowedDomains = []string{cfg.RootDomain, "*." + cfg.RootDomain}
	}
	if cfg.MaxHosts <= 0 {
		cfg.MaxHosts = DefaultMaxHosts
	}
	if cfg.MaxHTTPTargets <= 0 {
		cfg.MaxHTTPTargets = DefaultMaxHTTPTargets
	}
	return cfg, nil
}

// DomainInScope reports whether the domain matches any allowed_domains
// entry as a case-insensitive shell glob.
func (c Config) DomainInScope(domain string) bool {
	d := strings.TrimRight(strings.ToLower(strings.TrimSpace(domain)), ".")
	for _, pattern := range c.AllowedDomains {
		p := strings.TrimRight(strings.ToLower(strings.TrimSpace(pattern)), ".")
		if ok, err := path.Match(p, d); err == nil && ok {
			return true
		}
	}
	return false
}

// IPInScope reports whether the IP falls inside any allowed CIDR. An empty
// CIDR list allows all IPs: they were discovered from in-scope domains.
func (c Config) IPInScope(ipStr string) bool {
	if len(c.AllowedCIDRs) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ipStr))
	if err != nil {
		return false
	}
	for _, cidr := range c.AllowedCIDRs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// URLInScope reports whether the URL matches an allowed prefix, or its host
// passes the domain/IP check.
func (c Config) URLInScope(rawURL string) bool {
	for _, prefix := range c.AllowedURLPrefix {
		if strings.HasPrefix(rawURL, prefix) {
			return true
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return c.IPInScope(host)
	}
	return c.DomainInScope(host)
}

// Kind selects which scope check applies to a value.
type Kind string

const (
	KindDomain Kind = "domain"
	KindIP     Kind = "ip"
	KindURL    Kind = "url"
)

// InScope is the unified pre-probe check.
func (c Config) InScope(value string, kind Kind) bool {
	switch kind {
	case KindDomain:
		return c.DomainInScope(value)
	case KindIP:
		return c.IPInScope(value)
	case KindURL:
		return c.URLInScope(value)
	}
	return true
}

// Check returns ErrOutOfScope when the value fails the scope test.
func (c Config) Check(value string, kind Kind) error {
	if !c.InScope(value, kind) {
		return fmt.Errorf("%w: %s %q not allowed for %s", apierrors.ErrOutOfScope, kind, value, c.RootDomain)
	}
	return nil
}
