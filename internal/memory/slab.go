package memory

import "sync"

// SlabCache is a size-classed object cache for one fixed-size kernel
// struct (process descriptors, section descriptors, log entries). It
// reuses freed objects before allocating new ones, the same "reuse
// before grow" discipline PagePool uses for pages, and resets objects
// to a program-supplied zero value so cached reuse never leaks state
// across lifetimes (spec.md §9 calls this out for handles drawn from a
// process table).
type SlabCache[T any] struct {
	mu    sync.Mutex
	free  []*T
	reset func(*T)
	new   func() *T
}

// NewSlabCache creates a cache that constructs new objects with newFn
// and clears a reused object with resetFn before handing it back out.
func NewSlabCache[T any](newFn func() *T, resetFn func(*T)) *SlabCache[T] {
	return &SlabCache[T]{new: newFn, reset: resetFn}
}

// Get returns a zeroed object, reusing one from the free list if
// available.
func (c *SlabCache[T]) Get() *T {
	c.mu.Lock()
	n := len(c.free)
	if n == 0 {
		c.mu.Unlock()
		return c.new()
	}
	obj := c.free[n-1]
	c.free = c.free[:n-1]
	c.mu.Unlock()

	c.reset(obj)
	return obj
}

// Put returns obj to the free list for reuse.
func (c *SlabCache[T]) Put(obj *T) {
	c.mu.Lock()
	c.free = append(c.free, obj)
	c.mu.Unlock()
}

// Len reports how many objects are currently idle in the cache, for
// tests and metrics.
func (c *SlabCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.free)
}
