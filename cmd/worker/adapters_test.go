package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Good-Security/shadowpulse/internal/scanner"
)

func TestParseNmapGrepable(t *testing.T) {
	out := `# Nmap 7.94 scan initiated
Host: 192.0.2.10 ()	Status: Up
Host: 192.0.2.10 ()	Ports: 22/open/tcp//ssh//OpenSSH 9.6/, 80/open/tcp//http//nginx 1.24/, 443/open/tcp//https//, 8080/filtered/tcp//http-proxy//
# Nmap done`

	services := parseNmapGrepable("192.0.2.10", out)
	require.Len(t, services, 3)

	assert.Equal(t, "ip", services[0].HostType)
	assert.Equal(t, "192.0.2.10", services[0].HostValue)
	assert.Equal(t, 22, services[0].Port)
	assert.Equal(t, "tcp", services[0].Proto)
	assert.Equal(t, "ssh", services[0].Name)
	assert.Equal(t, "OpenSSH 9.6", services[0].Product)

	assert.Equal(t, 80, services[1].Port)
	assert.Equal(t, "http", services[1].Name)

	assert.Equal(t, 443, services[2].Port)
	assert.Equal(t, "https", services[2].Name)
}

func TestParseNmapGrepableNoPorts(t *testing.T) {
	out := `Host: 192.0.2.10 ()	Status: Up`
	assert.Empty(t, parseNmapGrepable("192.0.2.10", out))
}

func TestHTTPXParse(t *testing.T) {
	a := newHTTPXAdapter(&scanner.Runner{}).(*execAdapter)

	res := &scanner.Result{}
	stdout := `{"url":"https://app.acme.test","status_code":200,"title":"Login"}
not json
{"url":"https://api.acme.test:8443/","status_code":404}`
	a.parse("acme.test", stdout, res)

	require.Len(t, res.Assets, 2)
	assert.Equal(t, "url", res.Assets[0].Type)
	assert.Equal(t, "https://app.acme.test", res.Assets[0].Value)
	assert.NotEmpty(t, res.Assets[0].Normalized)
}

func TestNucleiParse(t *testing.T) {
	a := newNucleiAdapter(&scanner.Runner{}).(*execAdapter)

	res := &scanner.Result{}
	stdout := `{"info":{"name":"Exposed .git","severity":"medium","description":"Repository metadata is reachable","classification":{"cve-id":["CVE-2024-0001"],"cvss-score":5.3}},"matched-at":"https://app.acme.test/.git/config","extracted-results":["ref: refs/heads/main"]}
{"info":{"name":"Tech detect"},"matched-at":"https://app.acme.test"}`
	a.parse("acme.test", stdout, res)

	require.Len(t, res.Findings, 2)
	f := res.Findings[0]
	assert.Equal(t, "medium", f.Severity)
	assert.Equal(t, "Exposed .git", f.Title)
	assert.Equal(t, "CVE-2024-0001", f.CVE)
	assert.Equal(t, 5.3, f.CVSSScore)
	assert.Equal(t, "https://app.acme.test/.git/config", f.URL)
	assert.Equal(t, "ref: refs/heads/main", f.Evidence)

	// Missing severity defaults to info.
	assert.Equal(t, "info", res.Findings[1].Severity)
}

func TestSubfinderParse(t *testing.T) {
	a := newSubfinderAdapter(&scanner.Runner{}).(*execAdapter)

	res := &scanner.Result{}
	a.parse("acme.test", "App.ACME.test\n\nmail.acme.test\n", res)

	require.Len(t, res.Assets, 2)
	assert.Equal(t, "app.acme.test", res.Assets[0].Normalized)
	assert.Equal(t, "subdomain", res.Assets[0].Type)
}
