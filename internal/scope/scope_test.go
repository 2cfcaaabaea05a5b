package scope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil, "acme.test")
	require.NoError(t, err)

	assert.Equal(t, "acme.test", cfg.RootDomain)
	assert.Equal(t, []string{"acme.test", "*.acme.test"}, cfg.AllowedDomains)
	assert.Equal(t, DefaultMaxHosts, cfg.MaxHosts)
	assert.Equal(t, DefaultMaxHTTPTargets, cfg.MaxHTTPTargets)
}

func TestParseOverrides(t *testing.T) {
	raw := json.RawMessage(`{"allowed_domains":["acme.test"],"max_hosts":5,"max_concurrent_jobs":1}`)
	cfg, err := Parse(raw, "acme.test")
	require.NoError(t, err)

	assert.Equal(t, []string{"acme.test"}, cfg.AllowedDomains)
	assert.Equal(t, 5, cfg.MaxHosts)
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
}

func TestDomainInScope(t *testing.T) {
	cfg, err := Parse(nil, "acme.test")
	require.NoError(t, err)

	assert.True(t, cfg.DomainInScope("acme.test"))
	assert.True(t, cfg.DomainInScope("www.acme.test"))
	assert.True(t, cfg.DomainInScope("WWW.ACME.TEST."))
	assert.False(t, cfg.DomainInScope("evil.test"))
	assert.False(t, cfg.DomainInScope("acme.test.evil.test"))
}

func TestDomainInScopeExactOnly(t *testing.T) {
	cfg, err := Parse(json.RawMessage(`{"allowed_domains":["acme.test"]}`), "acme.test")
	require.NoError(t, err)

	assert.True(t, cfg.DomainInScope("acme.test"))
	assert.False(t, cfg.DomainInScope("www.acme.test"))
}

func TestIPInScope(t *testing.T) {
	open, err := Parse(nil, "acme.test")
	require.NoError(t, err)
	assert.True(t, open.IPInScope("203.0.113.9"), "empty CIDR list allows all")

	cfg, err := Parse(json.RawMessage(`{"allowed_cidrs":["10.0.0.0/8"]}`), "acme.test")
	require.NoError(t, err)
	assert.True(t, cfg.IPInScope("10.1.2.3"))
	assert.False(t, cfg.IPInScope("192.168.1.1"))
	assert.False(t, cfg.IPInScope("not-an-ip"))
}

func TestURLInScope(t *testing.T) {
	cfg, err := Parse(json.RawMessage(`{"allowed_url_prefixes":["https://app.acme.test/"]}`), "acme.test")
	require.NoError(t, err)

	assert.True(t, cfg.URLInScope("https://app.acme.test/login"))
	assert.True(t, cfg.URLInScope("http://www.acme.test/"), "falls back to domain check")
	assert.False(t, cfg.URLInScope("http://evil.test/"))
}

func TestCheckReturnsSentinel(t *testing.T) {
	cfg, err := Parse(json.RawMessage(`{"allowed_domains":["acme.test"]}`), "acme.test")
	require.NoError(t, err)

	err = cfg.Check("evil.test", KindDomain)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrOutOfScope)

	assert.NoError(t, cfg.Check("acme.test", KindDomain))
}
