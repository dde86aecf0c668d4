package endpointcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacher_GetOrFetch(t *testing.T) {
	t.Run("miss calls fetch and hit does not", func(t *testing.T) {
		c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
		ctx := context.Background()

		fetchCount := 0
		fetchFn := func(ctx context.Context) (string, error) {
			fetchCount++
			return "gateway.local", nil
		}

		val, err := c.GetOrFetch(ctx, "10.0.0.1", time.Minute, fetchFn)
		require.NoError(t, err)
		assert.Equal(t, "gateway.local", val)

		val, err = c.GetOrFetch(ctx, "10.0.0.1", time.Minute, fetchFn)
		require.NoError(t, err)
		assert.Equal(t, "gateway.local", val)
		assert.Equal(t, 1, fetchCount)
	})

	t.Run("fetch error is returned and not cached", func(t *testing.T) {
		c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
		ctx := context.Background()
		lookupErr := errors.New("lookup failed")

		_, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
			return "", lookupErr
		})
		assert.ErrorIs(t, err, lookupErr)

		count, err := c.ItemCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("expired entries are fetched again", func(t *testing.T) {
		c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
		ctx := context.Background()

		var fetchCount int
		fetchFn := func(ctx context.Context) (string, error) {
			fetchCount++
			return "v", nil
		}

		_, err := c.GetOrFetch(ctx, "k", 20*time.Millisecond, fetchFn)
		require.NoError(t, err)
		time.Sleep(40 * time.Millisecond)
		_, err = c.GetOrFetch(ctx, "k", 20*time.Millisecond, fetchFn)
		require.NoError(t, err)
		assert.Equal(t, 2, fetchCount)
	})

	t.Run("concurrent misses share one fetch", func(t *testing.T) {
		c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
		ctx := context.Background()

		var fetchCount atomic.Int32
		release := make(chan struct{})
		fetchFn := func(ctx context.Context) (string, error) {
			fetchCount.Add(1)
			<-release
			return "shared", nil
		}

		var wg sync.WaitGroup
		results := make([]string, 10)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := c.GetOrFetch(ctx, "k", time.Minute, fetchFn)
				assert.NoError(t, err)
				results[i] = v
			}(i)
		}

		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), fetchCount.Load())
		for _, v := range results {
			assert.Equal(t, "shared", v)
		}
	})
}

func TestMemoryCacher_Interface(t *testing.T) {
	var _ Cacher[string] = NewMemoryCacher[string](time.Minute, time.Minute)
	var _ Cacher[string] = (*RedisCacher[string])(nil)
}
