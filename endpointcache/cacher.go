// Package endpointcache resolves peer addresses to host names for display in
// connection endpoints, caching the answers so repeated lookups for the same
// peer do not hit DNS again.
package endpointcache

import (
	"context"
	"time"
)

// FetchFunc fetches a value from the source when a cache miss occurs.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher stores values with a TTL and fetches them on a miss. Implementations
// must be safe for concurrent use and run at most one fetch per key at a time.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn, stores its
	// result for ttl and returns it.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key to retrieve or set
	//   - ttl: Time-to-live duration for a fetched value
	//   - fetchFn: Function to fetch the value if not in cache
	//
	// Returns:
	//   - The cached or fetched value
	//   - An error if the cache or fetchFn fails
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)
}
