package allocator

import (
	"sync"
	"unsafe"

	"github.com/kolkov/tagdetector/internal/tag/addr"
)

// HeapAllocationRecord describes one freed heap chunk.
type HeapAllocationRecord struct {
	// TaggedAddr is the pointer as returned by Allocate (tag included).
	TaggedAddr uintptr

	// RequestedSize is the size passed to Allocate.
	RequestedSize uintptr

	// AllocThreadID and FreeThreadID are thread record identities.
	AllocThreadID uint64
	FreeThreadID  uint64

	// AllocStack and FreeStack are stack depot IDs (0 if not captured).
	AllocStack uint64
	FreeStack  uint64
}

// Range returns the untagged address range of the chunk.
func (r HeapAllocationRecord) Range() addr.Range {
	begin := addr.Untag(r.TaggedAddr)
	return addr.NewRange(begin, begin+r.RequestedSize)
}

// RingBuffer is a fixed-size history of recent frees of one thread.
//
// Writes come from the owning thread; reads come from error reports on any
// thread, hence the mutex.
type RingBuffer struct {
	mu      sync.Mutex
	records []HeapAllocationRecord
	pos     int
	full    bool
}

// NewRingBuffer creates a history with room for size records.
// size <= 0 gives a buffer that records nothing.
func NewRingBuffer(size int) *RingBuffer {
	if size < 0 {
		size = 0
	}
	return &RingBuffer{records: make([]HeapAllocationRecord, size)}
}

// Push appends a record, evicting the oldest one when full.
func (rb *RingBuffer) Push(rec HeapAllocationRecord) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.records) == 0 {
		return
	}
	rb.records[rb.pos] = rec
	rb.pos++
	if rb.pos == len(rb.records) {
		rb.pos = 0
		rb.full = true
	}
}

// Len returns the number of stored records.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.full {
		return len(rb.records)
	}
	return rb.pos
}

// Each visits records from newest to oldest until f returns false.
func (rb *RingBuffer) Each(f func(HeapAllocationRecord) bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.pos
	if rb.full {
		n = len(rb.records)
	}
	for i := 0; i < n; i++ {
		idx := rb.pos - 1 - i
		if idx < 0 {
			idx += len(rb.records)
		}
		if !f(rb.records[idx]) {
			return
		}
	}
}

// Find returns the newest record whose chunk contains the untagged address p.
func (rb *RingBuffer) Find(p uintptr) (HeapAllocationRecord, bool) {
	var (
		found HeapAllocationRecord
		ok    bool
	)
	p = addr.Untag(p)
	rb.Each(func(rec HeapAllocationRecord) bool {
		if rec.Range().Contains(p) {
			found, ok = rec, true
			return false
		}
		return true
	})
	return found, ok
}

// Bytes returns the memory footprint of the buffer.
func (rb *RingBuffer) Bytes() uintptr {
	if rb == nil {
		return 0
	}
	return RingBufferBytes(cap(rb.records))
}

// RingBufferBytes returns the footprint of a buffer with room for size records.
func RingBufferBytes(size int) uintptr {
	if size < 0 {
		size = 0
	}
	return unsafe.Sizeof(RingBuffer{}) + uintptr(size)*unsafe.Sizeof(HeapAllocationRecord{})
}
