// Package dnsx resolves batches of names to A/AAAA records with bounded
// parallelism, preserving input order.
package dnsx

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// Error codes reported in Result.Error.
const (
	ErrNXDomain = "NXDOMAIN"
	ErrTimeout  = "TIMEOUT"
	ErrNoAnswer = "NO_ANSWER"
)

// Result is the outcome of resolving one name. IPs preserves first-seen
// order with duplicates removed; Error is empty on success.
type Result struct {
	Name  string   `json:"name"`
	IPs   []string `json:"ips"`
	Error string   `json:"error,omitempty"`
}

// DefaultConcurrency bounds parallel resolutions when the caller passes 0.
const DefaultConcurrency = 50

const (
	queryTimeout = 2 * time.Second
	lifetime     = 3 * time.Second
)

type lookupFunc func(ctx context.Context, network, host string) ([]net.IP, error)

// Resolver resolves names with per-query and per-name deadlines.
type Resolver struct {
	lookup lookupFunc
}

// New returns a resolver backed by the Go DNS client with a 2s dial
// timeout per query.
func New() *Resolver {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: queryTimeout}
			return d.DialContext(ctx, network, address)
		},
	}
	return &Resolver{lookup: r.LookupIP}
}

// ResolveMany resolves all names in parallel, bounded by a semaphore of
// concurrency slots, and returns one Result per input name in input order.
// It returns only when every name has resolved or errored.
func (r *Resolver) ResolveMany(ctx context.Context, names []string, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	// Drop empty names up front; result positions follow the kept list.
	kept := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	results := make([]Result, len(kept))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, name := range kept {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.resolveOne(ctx, name)
		}(i, name)
	}
	wg.Wait()

	return results
}

// resolveOne queries A then AAAA under a shared 3s lifetime.
func (r *Resolver) resolveOne(ctx context.Context, name string) Result {
	ctx, cancel := context.WithTimeout(ctx, lifetime)
	defer cancel()

	var ips []string
	notFound := 0

	for _, network := range []string{"ip4", "ip6"} {
		addrs, err := r.lookup(ctx, network, name)
		if err != nil {
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) {
				if dnsErr.IsTimeout {
					return Result{Name: name, Error: ErrTimeout}
				}
				if dnsErr.IsNotFound {
					notFound++
					continue
				}
			}
			if ctx.Err() != nil {
				return Result{Name: name, Error: ErrTimeout}
			}
			return Result{Name: name, Error: err.Error()}
		}
		for _, a := range addrs {
			ips = append(ips, a.String())
		}
	}

	if len(ips) == 0 {
		// The Go resolver reports NXDOMAIN and empty answers identically;
		// both-families-missing is treated as NXDOMAIN, anything else as
		// an empty answer set.
		if notFound == 2 {
			return Result{Name: name, Error: ErrNXDomain}
		}
		return Result{Name: name, Error: ErrNoAnswer}
	}

	return Result{Name: name, IPs: dedupe(ips)}
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(ips []string) []string {
	seen := make(map[string]struct{}, len(ips))
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if ip == "" {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out
}
