// Package lowmem implements the dedicated memory source for thread records.
//
// Thread records must not be obtained through the general-purpose allocator:
// thread start runs while the tool's own allocator may be mid-operation on
// the same goroutine, and re-entering it would corrupt its state. Pool
// pre-allocates a fixed array of slots up front and hands them out from a
// free list, so acquiring a record never calls back into instrumented code.
//
// Every slot handed out by Alloc is zero-initialized. Free zeroes the slot
// before returning it to the free list, so a record that was never
// explicitly initialized always reads as a blank record.
//
// Exhaustion is reported as ErrExhausted. Callers treat it as fatal: a
// thread cannot run with partially initialized state.
package lowmem

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// Errors returned by Pool.
var (
	// ErrExhausted is returned by Alloc when every slot is in use.
	ErrExhausted = errors.New("lowmem: pool exhausted")

	// ErrForeign is returned by Free for a pointer not owned by the pool.
	ErrForeign = errors.New("lowmem: pointer not owned by pool")

	// ErrDoubleFree is returned by Free for a slot that is already free.
	ErrDoubleFree = errors.New("lowmem: slot already free")
)

// Pool is a fixed-capacity slot allocator for values of type T.
//
// Slot reuse is FIFO: freed slots go to the back of the free list so a
// just-released record is the last one to be handed out again.
//
// Thread Safety: All methods are safe for concurrent use.
type Pool[T any] struct {
	mu    sync.Mutex
	slots []T
	free  []int32
	inUse []bool
}

// New creates a pool with room for capacity values.
func New[T any](capacity int) (*Pool[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("lowmem: capacity must be positive, got %d", capacity)
	}
	p := &Pool[T]{
		slots: make([]T, capacity),
		free:  make([]int32, capacity),
		inUse: make([]bool, capacity),
	}
	for i := range p.free {
		//nolint:gosec // G115: capacity bounded by int32 in practice.
		p.free[i] = int32(i)
	}
	return p, nil
}

// Alloc returns a pointer to a zeroed slot.
//
// Performance: ~40ns (mutex + queue pop), no heap allocation.
func (p *Pool[T]) Alloc() (*T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil, fmt.Errorf("%w: %d slots in use", ErrExhausted, len(p.slots))
	}
	idx := p.free[0]
	p.free = p.free[1:]
	p.inUse[idx] = true
	return &p.slots[idx], nil
}

// Free zeroes the slot at v and returns it to the pool.
func (p *Pool[T]) Free(v *T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.indexOf(v)
	if !ok {
		return ErrForeign
	}
	if !p.inUse[idx] {
		return ErrDoubleFree
	}
	var zero T
	p.slots[idx] = zero
	p.inUse[idx] = false
	//nolint:makezero // Intentional append to the free list.
	p.free = append(p.free, int32(idx)) //nolint:gosec // G115: idx < capacity.
	return nil
}

// indexOf maps a slot pointer back to its index.
func (p *Pool[T]) indexOf(v *T) (int, bool) {
	if v == nil || len(p.slots) == 0 {
		return 0, false
	}
	size := unsafe.Sizeof(p.slots[0])
	if size == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&p.slots[0]))
	ptr := uintptr(unsafe.Pointer(v))
	if ptr < base {
		return 0, false
	}
	off := ptr - base
	if off%size != 0 {
		return 0, false
	}
	idx := int(off / size)
	if idx >= len(p.slots) {
		return 0, false
	}
	return idx, true
}

// Capacity returns the total number of slots.
func (p *Pool[T]) Capacity() int {
	return len(p.slots)
}

// InUse returns the number of allocated slots.
func (p *Pool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.free)
}

// SlotSize returns the size in bytes of one slot.
func (p *Pool[T]) SlotSize() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}
