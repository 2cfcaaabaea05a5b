package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Good-Security/shadowpulse/internal/scanner"
)

func svc(host string, port int) scanner.ServiceArtifact {
	return scanner.ServiceArtifact{
		HostType:       "host",
		HostValue:      host,
		HostNormalized: host,
		Port:           port,
		Proto:          "tcp",
	}
}

func TestBuildHTTPTargetsPortMapping(t *testing.T) {
	urls := BuildHTTPTargets([]scanner.ServiceArtifact{
		svc("a.test", 80),
		svc("a.test", 443),
		svc("a.test", 8443),
		svc("a.test", 8080),
		svc("a.test", 22),
		svc("a.test", 5432),
	}, 0)

	assert.Equal(t, []string{
		"http://a.test",
		"https://a.test",
		"https://a.test:8443",
		"http://a.test:8080",
	}, urls)
}

func TestBuildHTTPTargetsDedupesOnNormalizedForm(t *testing.T) {
	urls := BuildHTTPTargets([]scanner.ServiceArtifact{
		svc("A.Test", 80),
		svc("a.test", 80),
		{HostType: "host", HostValue: "a.test.", Port: 80, Proto: "tcp"},
	}, 0)
	assert.Len(t, urls, 1)
}

func TestBuildHTTPTargetsTruncates(t *testing.T) {
	in := []scanner.ServiceArtifact{
		svc("a.test", 80),
		svc("b.test", 80),
		svc("c.test", 80),
	}
	urls := BuildHTTPTargets(in, 2)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, urls)
}

func TestBuildHTTPTargetsSkipsEmptyHosts(t *testing.T) {
	urls := BuildHTTPTargets([]scanner.ServiceArtifact{
		{HostType: "host", Port: 80, Proto: "tcp"},
	}, 0)
	assert.Empty(t, urls)
}
