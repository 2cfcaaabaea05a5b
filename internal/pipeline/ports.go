package pipeline

import (
	"fmt"

	"github.com/Good-Security/shadowpulse/internal/normalize"
	"github.com/Good-Security/shadowpulse/internal/scanner"
)

// Web port sets steering the HTTP probe stage. Ports outside both sets
// are not probed over HTTP.
var (
	webPortsHTTPS = map[int]bool{443: true, 8443: true, 9443: true}
	webPortsHTTP  = map[int]bool{
		80: true, 8080: true, 8000: true, 3000: true, 5000: true,
		8081: true, 8888: true, 9000: true, 10000: true,
	}
)

// BuildHTTPTargets derives the URL candidates for the HTTP probe stage
// from discovered services. Default ports are omitted from the literal,
// URLs are deduplicated on their normalized form, and the list is
// truncated to maxTargets. Input order is preserved.
func BuildHTTPTargets(services []scanner.ServiceArtifact, maxTargets int) []string {
	var urls []string
	seen := make(map[string]bool)

	for _, svc := range services {
		host := svc.HostNormalized
		if host == "" {
			host = normalize.Domain(svc.HostValue)
		}
		if host == "" {
			continue
		}

		var u string
		switch {
		case webPortsHTTPS[svc.Port]:
			if svc.Port == 443 {
				u = fmt.Sprintf("https://%s", host)
			} else {
				u = fmt.Sprintf("https://%s:%d", host, svc.Port)
			}
		case webPortsHTTP[svc.Port]:
			if svc.Port == 80 {
				u = fmt.Sprintf("http://%s", host)
			} else {
				u = fmt.Sprintf("http://%s:%d", host, svc.Port)
			}
		default:
			continue
		}

		key := normalize.URL(u)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		urls = append(urls, u)

		if maxTargets > 0 && len(urls) >= maxTargets {
			break
		}
	}
	return urls
}
