package allocator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kolkov/tagdetector/internal/tag/addr"
	"github.com/kolkov/tagdetector/internal/tag/shadow"
	"github.com/kolkov/tagdetector/internal/tag/stackdepot"
)

// Errors returned by the allocator.
var (
	// ErrTagMismatch is returned when a pointer's tag does not match the
	// memory it points to.
	ErrTagMismatch = errors.New("allocator: tag mismatch")

	// ErrInvalidFree is returned for a pointer that is not a live chunk.
	ErrInvalidFree = errors.New("allocator: invalid free")

	// ErrOutOfSpace is returned when the simulated heap is exhausted.
	ErrOutOfSpace = errors.New("allocator: out of address space")
)

// Simulated heap region. Below the tag byte, far from real Go heap addresses.
const (
	heapBase  uintptr = 0x0000_6000_0000_0000
	heapLimit uintptr = 0x0000_6100_0000_0000
)

// MismatchError describes a failed tag check.
type MismatchError struct {
	Ptr    uintptr
	Size   uintptr
	PtrTag addr.Tag
	MemTag addr.Tag
	Write  bool
}

// Error implements error.
func (e *MismatchError) Error() string {
	access := "read"
	if e.Write {
		access = "write"
	}
	return fmt.Sprintf("tag mismatch on %s of size %d at %#x: pointer tag %#02x, memory tag %#02x",
		access, e.Size, addr.Untag(e.Ptr), e.PtrTag, e.MemTag)
}

// Unwrap makes errors.Is(err, ErrTagMismatch) work.
func (e *MismatchError) Unwrap() error { return ErrTagMismatch }

// Thread is the view of a thread record the allocator needs.
type Thread interface {
	UniqueID() uint64
	GenerateRandomTag() addr.Tag
	AllocatorCache() *Cache
	HeapAllocations() *RingBuffer
}

type chunk struct {
	size       uintptr // requested size
	class      int     // -1 for large
	tag        addr.Tag
	owner      uint64
	allocStack uint64
}

// Stats are process-wide allocator counters.
type Stats struct {
	Allocs         uint64
	Frees          uint64
	LiveChunks     uint64
	Mismatches     uint64
	ReleasedCaches uint64
}

// Options configure an Allocator.
type Options struct {
	// HistorySize is the number of records in each thread's ring buffer.
	HistorySize int

	// CaptureStacks records allocation and free stacks in the depot.
	CaptureStacks bool
}

// Allocator hands out tagged chunks from a simulated heap.
//
// Thread Safety: All methods are safe for concurrent use.
type Allocator struct {
	shadow *shadow.Memory
	depot  *stackdepot.Depot
	opts   Options

	mu     sync.Mutex
	next   uintptr
	global [numClasses][]uintptr
	chunks map[uintptr]chunk

	histories *xsync.Map[*RingBuffer, struct{}]

	allocs     atomic.Uint64
	frees      atomic.Uint64
	mismatches atomic.Uint64
	released   atomic.Uint64
}

// New creates an allocator coloring chunks in sm.
func New(sm *shadow.Memory, depot *stackdepot.Depot, opts Options) *Allocator {
	return &Allocator{
		shadow:    sm,
		depot:     depot,
		opts:      opts,
		next:      heapBase,
		chunks:    make(map[uintptr]chunk),
		histories: xsync.NewMap[*RingBuffer, struct{}](),
	}
}

// HeapHistory creates a heap-allocation ring buffer for a new thread.
//
// The allocator owns the buffer until DropHistory; thread records only
// keep the reference.
func (a *Allocator) HeapHistory() *RingBuffer {
	rb := NewRingBuffer(a.opts.HistorySize)
	a.histories.Store(rb, struct{}{})
	return rb
}

// DropHistory releases a buffer obtained from HeapHistory.
func (a *Allocator) DropHistory(rb *RingBuffer) {
	if rb == nil {
		return
	}
	a.histories.Delete(rb)
}

// Histories returns the number of live heap histories.
func (a *Allocator) Histories() int {
	return a.histories.Size()
}

// HistorySize returns the capacity of each heap history.
func (a *Allocator) HistorySize() int {
	return a.opts.HistorySize
}

// ReleaseCache drains a thread's cache into the shared free lists.
//
// The Cache itself stays valid (and empty) afterwards.
func (a *Allocator) ReleaseCache(c *Cache) {
	if c == nil {
		return
	}
	a.mu.Lock()
	for class := range c.free {
		a.global[class] = append(a.global[class], c.free[class]...)
		c.free[class] = nil
	}
	a.mu.Unlock()

	*c = Cache{}
	a.released.Add(1)
}

// Allocate returns a tagged pointer to size bytes.
//
// The chunk is colored with t's next tag (neutral when t has tagging
// disabled).
func (a *Allocator) Allocate(t Thread, size uintptr) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	cache := t.AllocatorCache()
	class := classOf(size)

	var p uintptr
	var ok bool
	if class >= 0 {
		p, ok = cache.pop(class)
	}

	a.mu.Lock()
	if !ok {
		var err error
		p, err = a.carveLocked(class, size)
		if err != nil {
			a.mu.Unlock()
			return 0, err
		}
	}

	tag := t.GenerateRandomTag()
	var stack uint64
	if a.opts.CaptureStacks && a.depot != nil {
		stack = a.depot.Capture(1)
	}
	a.chunks[p] = chunk{size: size, class: class, tag: tag, owner: t.UniqueID(), allocStack: stack}
	a.mu.Unlock()

	a.shadow.TagRange(addr.NewRange(p, p+addr.RoundUp(size)), tag)

	cache.allocs++
	cache.bytes += int64(size) //nolint:gosec // G115: chunk sizes fit in int64.
	a.allocs.Add(1)
	return addr.WithTag(p, tag), nil
}

// carveLocked takes a chunk from the shared free list or the bump region.
func (a *Allocator) carveLocked(class int, size uintptr) (uintptr, error) {
	if class >= 0 {
		if l := a.global[class]; len(l) > 0 {
			p := l[len(l)-1]
			a.global[class] = l[:len(l)-1]
			return p, nil
		}
		size = classSize(class)
	} else {
		size = addr.RoundUp(size)
	}
	if a.next+size > heapLimit || a.next+size < a.next {
		return 0, fmt.Errorf("%w: %d bytes requested", ErrOutOfSpace, size)
	}
	p := a.next
	a.next += size
	return p, nil
}

// Deallocate frees the chunk at ptr on behalf of t.
//
// The pointer tag is checked first. On success the chunk is retagged so
// stale pointers fault, and a record is pushed to t's heap history.
func (a *Allocator) Deallocate(t Thread, ptr uintptr) error {
	p := addr.Untag(ptr)

	a.mu.Lock()
	ch, ok := a.chunks[p]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %#x", ErrInvalidFree, p)
	}
	if addr.TagOf(ptr) != ch.tag {
		a.mu.Unlock()
		a.mismatches.Add(1)
		return &MismatchError{Ptr: ptr, Size: ch.size, PtrTag: addr.TagOf(ptr), MemTag: ch.tag, Write: true}
	}
	delete(a.chunks, p)
	a.mu.Unlock()

	var freeStack uint64
	if a.opts.CaptureStacks && a.depot != nil {
		freeStack = a.depot.Capture(1)
	}
	if rb := t.HeapAllocations(); rb != nil {
		rb.Push(HeapAllocationRecord{
			TaggedAddr:    ptr,
			RequestedSize: ch.size,
			AllocThreadID: ch.owner,
			FreeThreadID:  t.UniqueID(),
			AllocStack:    ch.allocStack,
			FreeStack:     freeStack,
		})
	}

	// Retag freed memory with a tag different from the old one.
	r := addr.NewRange(p, p+addr.RoundUp(ch.size))
	newTag := t.GenerateRandomTag()
	for newTag == ch.tag && newTag != addr.NeutralTag {
		newTag = t.GenerateRandomTag()
	}
	a.shadow.TagRange(r, newTag)

	cache := t.AllocatorCache()
	cache.frees++
	cache.bytes -= int64(ch.size) //nolint:gosec // G115: chunk sizes fit in int64.
	a.frees.Add(1)

	if ch.class >= 0 && !cache.push(ch.class, p) {
		a.mu.Lock()
		a.global[ch.class] = append(a.global[ch.class], p)
		a.mu.Unlock()
	}
	return nil
}

// CheckAccess verifies a load or store of size bytes through ptr.
func (a *Allocator) CheckAccess(ptr, size uintptr, write bool) error {
	if a.shadow.CheckRange(ptr, size) {
		return nil
	}
	a.mismatches.Add(1)
	return &MismatchError{
		Ptr:    ptr,
		Size:   size,
		PtrTag: addr.TagOf(ptr),
		MemTag: a.shadow.TagAt(ptr),
		Write:  write,
	}
}

// Chunk describes a live heap chunk.
type Chunk struct {
	Begin      uintptr
	Size       uintptr
	Tag        addr.Tag
	OwnerID    uint64
	AllocStack uint64
}

// FindChunk returns the live chunk containing the (possibly tagged) address p.
func (a *Allocator) FindChunk(p uintptr) (Chunk, bool) {
	p = addr.Untag(p)
	a.mu.Lock()
	defer a.mu.Unlock()
	for begin, ch := range a.chunks {
		if p >= begin && p < begin+addr.RoundUp(ch.size) {
			return Chunk{Begin: begin, Size: ch.size, Tag: ch.tag, OwnerID: ch.owner, AllocStack: ch.allocStack}, true
		}
	}
	return Chunk{}, false
}

// StackDepot returns the depot used for allocation stacks.
func (a *Allocator) StackDepot() *stackdepot.Depot {
	return a.depot
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	live := uint64(len(a.chunks))
	a.mu.Unlock()
	return Stats{
		Allocs:         a.allocs.Load(),
		Frees:          a.frees.Load(),
		LiveChunks:     live,
		Mismatches:     a.mismatches.Load(),
		ReleasedCaches: a.released.Load(),
	}
}
