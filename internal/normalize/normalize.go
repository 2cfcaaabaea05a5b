// Package normalize canonicalizes domains, URLs and IP literals into the
// stable keys the inventory deduplicates on. All functions are pure and
// total: bad input yields an empty string, never an error.
package normalize

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/Good-Security/shadowpulse/internal/models"
)

// IsIP reports whether the value parses as an IPv4 or IPv6 literal.
func IsIP(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return false
	}
	_, err := netip.ParseAddr(v)
	return err == nil
}

// Domain canonicalizes a host-ish string: lowercase, scheme and path
// stripped, port stripped, trailing dot stripped, IPv6 unbracketed.
func Domain(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}

	var host string
	if strings.Contains(v, "://") {
		if u, err := url.Parse(v); err == nil {
			host = u.Hostname()
		}
	} else {
		host = strings.SplitN(v, "/", 2)[0]
		// ipv6 might be in brackets
		if strings.HasPrefix(host, "[") {
			if end := strings.Index(host, "]"); end > 0 {
				host = host[1:end]
			}
		}
		// drop port for host:port
		if strings.Count(host, ":") == 1 {
			host = strings.SplitN(host, ":", 2)[0]
		}
	}

	host = strings.TrimRight(strings.TrimSpace(host), ".")
	return strings.ToLower(host)
}

// URL canonicalizes a URL for inventory purposes: scheme defaulted to http,
// host lowercased, default ports dropped, query and fragment dropped,
// trailing slash collapsed on non-root paths.
func URL(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}

	// If the scanner gives us a bare host, interpret as http.
	if !strings.Contains(v, "://") {
		v = "http://" + v
	}

	u, err := url.Parse(v)
	if err != nil {
		return ""
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()

	// Drop default ports for canonicalization.
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	netloc := host
	if port != "" {
		netloc = host + ":" + port
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	// Inventory-oriented canonical URL: drop query/fragment.
	return scheme + "://" + netloc + path
}

// GuessAssetTypeFromHost classifies a host string as an ip or host asset.
func GuessAssetTypeFromHost(host string) models.AssetType {
	h := Domain(host)
	if IsIP(h) {
		return models.AssetIP
	}
	// Treat any hostname as "host"; subdomains are a subset.
	return models.AssetHost
}
