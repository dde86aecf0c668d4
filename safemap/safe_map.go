// Package safemap provides a generic concurrent map that remembers insertion
// order. Servers use it to keep live connections keyed by id while servicing
// them in the order they were accepted.
package safemap

import "sync"

// SafeMap is a map guarded by a read/write mutex. Range and Keys visit entries
// in the order their keys were first stored; overwriting a key keeps its
// position.
//
// SafeMap must not be copied after first use. Store and Load are O(1); Delete
// is O(n) in the number of entries.
type SafeMap[K comparable, V any] struct {
	mu     sync.RWMutex
	keys   []K
	values map[K]V
}

// NewSafeMap returns an empty SafeMap ready for use.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{values: make(map[K]V)}
}

// Store sets the value for key k, overwriting any existing value.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.values == nil {
		m.values = make(map[K]V)
	}

	if _, found := m.values[k]; !found {
		m.keys = append(m.keys, k)
	}

	m.values[k] = v
}

// Load returns the value for key k and whether it was present. A missing key
// yields the zero value of V.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, found := m.values[k]
	return v, found
}

// Delete removes the entry for key k. Deleting a missing key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.values[k]; !found {
		return
	}

	delete(m.values, k)
	for i, key := range m.keys {
		if key == k {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Has reports whether key k is present.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, found := m.Load(k)
	return found
}

// Len returns the number of entries.
func (m *SafeMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.values)
}

// Keys returns the keys in insertion order.
func (m *SafeMap[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]K, len(m.keys))
	copy(keys, m.keys)

	return keys
}

// Range calls f for each entry in insertion order until f returns false. It
// iterates over a snapshot, so f may modify the map; entries stored during
// the iteration are not visited and deleted ones are skipped.
//
// Parameters:
//   - f: Function called for each entry; return false to stop iteration
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	for _, k := range m.Keys() {
		v, found := m.Load(k)
		if !found {
			continue
		}

		if !f(k, v) {
			return
		}
	}
}
