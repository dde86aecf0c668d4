package idgenerator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator(t *testing.T) {
	t.Run("first id is startValue+1", func(t *testing.T) {
		assert.Equal(t, uint32(1), NewIdGenerator(0).Id())
		assert.Equal(t, uint32(101), NewIdGenerator(100).Id())
	})

	t.Run("wraparound skips zero", func(t *testing.T) {
		gen := NewIdGenerator(^uint32(0) - 1)
		assert.Equal(t, ^uint32(0), gen.Id())
		assert.Equal(t, uint32(1), gen.Id())
		assert.Equal(t, uint32(2), gen.Id())
	})
}

func TestIdGenerator_Id(t *testing.T) {
	t.Run("ids are sequential", func(t *testing.T) {
		gen := NewIdGenerator(0)
		for want := uint32(1); want <= 10; want++ {
			assert.Equal(t, want, gen.Id())
		}
	})

	t.Run("concurrent callers get distinct ids", func(t *testing.T) {
		gen := NewIdGenerator(0)
		const goroutines = 50
		const perGoroutine = 200

		var mu sync.Mutex
		seen := make(map[uint32]bool)
		var wg sync.WaitGroup
		wg.Add(goroutines)
		for range goroutines {
			go func() {
				defer wg.Done()
				for range perGoroutine {
					id := gen.Id()
					mu.Lock()
					seen[id] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, seen, goroutines*perGoroutine)
		assert.False(t, seen[0])
	})
}
