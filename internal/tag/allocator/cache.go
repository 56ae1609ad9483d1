package allocator

// Size classes: 16 << i bytes.
const (
	minClassShift = 4
	numClasses    = 9 // 16 .. 4096
	maxSmallSize  = 1 << (minClassShift + numClasses - 1)

	// cacheLimit caps each per-thread free list; overflow goes to the
	// shared free list.
	cacheLimit = 64
)

// classOf returns the size class for size, or -1 for large allocations.
func classOf(size uintptr) int {
	if size > maxSmallSize {
		return -1
	}
	c := 0
	for uintptr(1)<<(minClassShift+c) < size {
		c++
	}
	return c
}

// classSize returns the chunk size of class c.
func classSize(c int) uintptr {
	return uintptr(1) << (minClassShift + c)
}

// Cache is a per-thread allocator cache.
//
// The zero Cache is empty and ready to use. A Cache is accessed only by its
// owning thread, except during Allocator.ReleaseCache which runs on that
// same thread at exit.
type Cache struct {
	free [numClasses][]uintptr

	allocs uint64
	frees  uint64
	bytes  int64 // net bytes allocated through this cache
}

// pop takes a free chunk of class c from the cache.
func (c *Cache) pop(class int) (uintptr, bool) {
	l := c.free[class]
	if len(l) == 0 {
		return 0, false
	}
	p := l[len(l)-1]
	c.free[class] = l[:len(l)-1]
	return p, true
}

// push returns a chunk to the cache. Reports false if the list is full.
func (c *Cache) push(class int, p uintptr) bool {
	if len(c.free[class]) >= cacheLimit {
		return false
	}
	c.free[class] = append(c.free[class], p)
	return true
}

// Allocs returns the number of allocations served through this cache.
func (c *Cache) Allocs() uint64 { return c.allocs }

// Frees returns the number of deallocations recorded in this cache.
func (c *Cache) Frees() uint64 { return c.frees }

// Cached returns the number of free chunks held by the cache.
func (c *Cache) Cached() int {
	n := 0
	for i := range c.free {
		n += len(c.free[i])
	}
	return n
}

// NetBytes returns bytes allocated minus bytes freed through this cache.
func (c *Cache) NetBytes() int64 { return c.bytes }
