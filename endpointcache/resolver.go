package endpointcache

import (
	"context"
	"net"
	"strings"
	"time"
)

// LookupFunc performs a reverse lookup of an IP address.
type LookupFunc func(ctx context.Context, addr string) ([]string, error)

// Resolver turns "ip:port" endpoints into "hostname:port". Failed lookups are
// cached as the bare address so an unresolvable peer costs one lookup per TTL.
type Resolver struct {
	cache   Cacher[string]
	lookup  LookupFunc
	ttl     time.Duration
	timeout time.Duration
}

// NewResolver creates a Resolver using the system resolver.
//
// Parameters:
//   - cache: Where resolved names are kept
//   - ttl: How long an answer stays cached
//   - timeout: Upper bound for one lookup
func NewResolver(cache Cacher[string], ttl, timeout time.Duration) *Resolver {
	return &Resolver{
		cache:   cache,
		lookup:  net.DefaultResolver.LookupAddr,
		ttl:     ttl,
		timeout: timeout,
	}
}

// WithLookup replaces the lookup function and returns the resolver.
func (r *Resolver) WithLookup(fn LookupFunc) *Resolver {
	r.lookup = fn
	return r
}

// Resolve returns endpoint with its host replaced by the peer's name. Anything
// that is not a "host:port" pair is returned unchanged.
func (r *Resolver) Resolve(endpoint string) string {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil || net.ParseIP(host) == nil {
		return endpoint
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	name, err := r.cache.GetOrFetch(ctx, host, r.ttl, func(ctx context.Context) (string, error) {
		names, err := r.lookup(ctx, host)
		if err != nil || len(names) == 0 {
			return host, nil
		}

		return strings.TrimSuffix(names[0], "."), nil
	})
	if err != nil || name == "" {
		return endpoint
	}

	return net.JoinHostPort(name, port)
}
