// Package oncecell implements ordinary once-cells backing each computed
// value, replacing the "memoized suppliers backed by lazy-holder objects"
// pattern flagged for re-architecture in §9. It is the shared primitive
// behind both the action-graph's target->rule map (§4.3) and the rule-key
// engine's per-invocation memo map (§4.2), giving both an atomic
// insert-or-get entry guard with no lock held across the computation
// itself.
package oncecell

import "sync"

// Cell holds a lazily-computed value of type T. The zero value is usable.
type Cell[T any] struct {
	once sync.Once
	val  T
	err  error
}

// Get returns the cell's value, computing it via compute on first call.
// Concurrent callers block on the same in-flight computation; none
// duplicate the work (§4.2 "concurrent requests for the same target must
// never duplicate computation").
func (c *Cell[T]) Get(compute func() (T, error)) (T, error) {
	c.once.Do(func() {
		c.val, c.err = compute()
	})
	return c.val, c.err
}

// Map is a concurrency-safe target/key -> *Cell[T] registry implementing
// the "atomic insert-or-get semantics" §4.4 requires for shared resources,
// with contention limited to the per-key insert guard rather than a single
// global lock.
type Map[K comparable, T any] struct {
	mu    sync.Mutex
	cells map[K]*Cell[T]
}

// NewMap returns an empty Map.
func NewMap[K comparable, T any]() *Map[K, T] {
	return &Map[K, T]{cells: make(map[K]*Cell[T])}
}

// LoadOrStore returns the existing cell for key, or atomically installs and
// returns a new one.
func (m *Map[K, T]) LoadOrStore(key K) *Cell[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cells[key]; ok {
		return c
	}
	c := &Cell[T]{}
	m.cells[key] = c
	return c
}

// Len returns the number of distinct keys observed so far.
func (m *Map[K, T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cells)
}
