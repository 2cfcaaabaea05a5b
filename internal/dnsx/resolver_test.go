package dnsx

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubResolver(lookup lookupFunc) *Resolver {
	return &Resolver{lookup: lookup}
}

func TestResolveManyPreservesOrder(t *testing.T) {
	r := stubResolver(func(_ context.Context, network, host string) ([]net.IP, error) {
		if network == "ip6" {
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		}
		switch host {
		case "a.test":
			return []net.IP{net.ParseIP("1.1.1.1")}, nil
		case "b.test":
			return []net.IP{net.ParseIP("2.2.2.2")}, nil
		default:
			return []net.IP{net.ParseIP("3.3.3.3")}, nil
		}
	})

	results := r.ResolveMany(context.Background(), []string{"a.test", "b.test", "c.test"}, 2)
	require.Len(t, results, 3)
	assert.Equal(t, "a.test", results[0].Name)
	assert.Equal(t, []string{"1.1.1.1"}, results[0].IPs)
	assert.Equal(t, "b.test", results[1].Name)
	assert.Equal(t, "c.test", results[2].Name)
}

func TestResolveManySkipsEmptyNames(t *testing.T) {
	r := stubResolver(func(_ context.Context, _, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("1.1.1.1")}, nil
	})

	results := r.ResolveMany(context.Background(), []string{"", "a.test", ""}, 1)
	require.Len(t, results, 1)
	assert.Equal(t, "a.test", results[0].Name)

	assert.Nil(t, r.ResolveMany(context.Background(), nil, 1))
}

func TestResolveOneDedupesPreservingOrder(t *testing.T) {
	r := stubResolver(func(_ context.Context, network, host string) ([]net.IP, error) {
		if network == "ip4" {
			return []net.IP{net.ParseIP("9.9.9.9"), net.ParseIP("1.1.1.1"), net.ParseIP("9.9.9.9")}, nil
		}
		return []net.IP{net.ParseIP("1.1.1.1")}, nil
	})

	res := r.resolveOne(context.Background(), "dup.test")
	assert.Empty(t, res.Error)
	assert.Equal(t, []string{"9.9.9.9", "1.1.1.1"}, res.IPs)
}

func TestResolveOneErrorTaxonomy(t *testing.T) {
	t.Run("nxdomain when both families missing", func(t *testing.T) {
		r := stubResolver(func(_ context.Context, _, host string) ([]net.IP, error) {
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		})
		res := r.resolveOne(context.Background(), "gone.test")
		assert.Equal(t, ErrNXDomain, res.Error)
	})

	t.Run("no answer when one family empty", func(t *testing.T) {
		r := stubResolver(func(_ context.Context, network, host string) ([]net.IP, error) {
			if network == "ip4" {
				return nil, nil
			}
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		})
		res := r.resolveOne(context.Background(), "empty.test")
		assert.Equal(t, ErrNoAnswer, res.Error)
	})

	t.Run("timeout", func(t *testing.T) {
		r := stubResolver(func(_ context.Context, _, host string) ([]net.IP, error) {
			return nil, &net.DNSError{Err: "i/o timeout", Name: host, IsTimeout: true}
		})
		res := r.resolveOne(context.Background(), "slow.test")
		assert.Equal(t, ErrTimeout, res.Error)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		r := stubResolver(func(_ context.Context, _, host string) ([]net.IP, error) {
			return nil, &net.DNSError{Err: "server misbehaving", Name: host}
		})
		res := r.resolveOne(context.Background(), "weird.test")
		assert.Contains(t, res.Error, "server misbehaving")
	})
}

func TestResolveManyBoundsConcurrency(t *testing.T) {
	var inFlight, peak int64
	var mu sync.Mutex

	r := stubResolver(func(_ context.Context, _, host string) ([]net.IP, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if cur > peak {
			peak = cur
		}
		mu.Unlock()
		defer atomic.AddInt64(&inFlight, -1)
		return []net.IP{net.ParseIP("1.1.1.1")}, nil
	})

	names := make([]string, 40)
	for i := range names {
		names[i] = "n.test"
	}
	// Each name issues two lookups (A then AAAA) from the same slot.
	results := r.ResolveMany(context.Background(), names, 4)
	require.Len(t, results, 40)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(4))
}
