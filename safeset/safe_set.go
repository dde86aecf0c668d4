// Package safeset provides a generic set that is safe for concurrent use.
package safeset

import "sync"

// SafeSet is a set of comparable values guarded by a mutex.
type SafeSet[T comparable] struct {
	m map[T]struct{}
	sync.Mutex
}

// NewSafeSet returns an empty set.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add inserts value. Adding a present value is a no-op.
func (s *SafeSet[T]) Add(value T) {
	s.Lock()
	defer s.Unlock()
	s.m[value] = struct{}{}
}

// Drain removes every value and returns them in no particular order.
//
// Returns:
//   - The values the set held, or nil if it was empty
func (s *SafeSet[T]) Drain() []T {
	s.Lock()
	defer s.Unlock()

	if len(s.m) == 0 {
		return nil
	}

	values := make([]T, 0, len(s.m))
	for k := range s.m {
		values = append(values, k)
	}

	s.m = make(map[T]struct{})
	return values
}

// Reset removes every value.
func (s *SafeSet[T]) Reset() {
	s.Lock()
	defer s.Unlock()
	s.m = make(map[T]struct{})
}
