package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Good-Security/shadowpulse/internal/models"
)

func TestDomain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "Example.COM", "example.com"},
		{"trailing dot", "www.example.com.", "www.example.com"},
		{"scheme stripped", "https://www.example.com/login", "www.example.com"},
		{"path stripped", "www.example.com/a/b", "www.example.com"},
		{"port stripped", "www.example.com:8443", "www.example.com"},
		{"scheme and port", "http://api.example.com:8080/v1", "api.example.com"},
		{"bracketed ipv6", "[2001:db8::1]:443", "2001:db8::1"},
		{"whitespace", "  example.com  ", "example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Domain(tt.in))
		})
	}
}

func TestDomainIdempotent(t *testing.T) {
	inputs := []string{"https://WWW.Example.com:8443/x", "a.b.c.", "[::1]:80"}
	for _, in := range inputs {
		once := Domain(in)
		assert.Equal(t, once, Domain(once), "Domain should be idempotent for %q", in)
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"bare host", "example.com", "http://example.com/"},
		{"default http port", "http://example.com:80/", "http://example.com/"},
		{"default https port", "https://example.com:443/app", "https://example.com/app"},
		{"nonstandard port kept", "http://example.com:8080", "http://example.com:8080/"},
		{"query dropped", "http://example.com/a?x=1", "http://example.com/a"},
		{"fragment dropped", "http://example.com/a#frag", "http://example.com/a"},
		{"trailing slash collapsed", "http://example.com/a/b/", "http://example.com/a/b"},
		{"root slash kept", "http://example.com/", "http://example.com/"},
		{"host lowercased", "http://EXAMPLE.com/Path", "http://example.com/Path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, URL(tt.in))
		})
	}
}

func TestURLIdempotent(t *testing.T) {
	inputs := []string{
		"HTTP://Example.com:80/a/?q=1",
		"example.com:8080/x/",
		"https://a.b:443",
	}
	for _, in := range inputs {
		once := URL(in)
		assert.Equal(t, once, URL(once), "URL should be idempotent for %q", in)
	}
}

func TestIsIP(t *testing.T) {
	assert.True(t, IsIP("1.2.3.4"))
	assert.True(t, IsIP("2001:db8::1"))
	assert.False(t, IsIP("example.com"))
	assert.False(t, IsIP(""))
	assert.False(t, IsIP("1.2.3.4.5"))
}

func TestGuessAssetTypeFromHost(t *testing.T) {
	assert.Equal(t, models.AssetIP, GuessAssetTypeFromHost("10.0.0.1"))
	assert.Equal(t, models.AssetIP, GuessAssetTypeFromHost("[2001:db8::1]:443"))
	assert.Equal(t, models.AssetHost, GuessAssetTypeFromHost("www.example.com"))
}
