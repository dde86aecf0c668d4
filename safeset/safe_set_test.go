package safeset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeSet(t *testing.T) {
	s := NewSafeSet[string]()
	require.NotNil(t, s)
	assert.Nil(t, s.Drain())
}

func TestSafeSet_Add(t *testing.T) {
	s := NewSafeSet[uint32]()

	s.Add(1)
	s.Add(1)
	s.Add(2)

	assert.ElementsMatch(t, []uint32{1, 2}, s.Drain())
}

func TestSafeSet_Drain(t *testing.T) {
	t.Run("returns all values and empties the set", func(t *testing.T) {
		s := NewSafeSet[uint32]()
		s.Add(3)
		s.Add(1)
		s.Add(2)

		got := s.Drain()
		assert.ElementsMatch(t, []uint32{1, 2, 3}, got)
		assert.Nil(t, s.Drain())

		s.Add(4)
		assert.Equal(t, []uint32{4}, s.Drain())
	})

	t.Run("empty set drains to nil", func(t *testing.T) {
		assert.Nil(t, NewSafeSet[int]().Drain())
	})
}

func TestSafeSet_Reset(t *testing.T) {
	s := NewSafeSet[int]()
	s.Add(1)
	s.Add(2)

	s.Reset()
	assert.Nil(t, s.Drain())

	s.Add(3)
	assert.Equal(t, []int{3}, s.Drain())
}

func TestSafeSet_Concurrent(t *testing.T) {
	s := NewSafeSet[int]()
	const goroutines = 50
	const opsPerGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range opsPerGoroutine {
				s.Add(id*opsPerGoroutine + i)
			}
		}(g)
	}
	wg.Wait()

	assert.Len(t, s.Drain(), goroutines*opsPerGoroutine)
	assert.Nil(t, s.Drain())
}
