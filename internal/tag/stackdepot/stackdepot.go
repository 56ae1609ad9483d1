// Package stackdepot stores deduplicated allocation and deallocation stacks.
//
// The heap-allocation history of each thread keeps one 64-bit stack ID per
// entry instead of the frames themselves. Identical stacks (the common case
// for allocation sites inside loops) are stored once.
//
// Design:
//   - Fixed-size traces (MaxFrames program counters)
//   - FNV-1a over the program counters as the stack ID
//   - xsync.Map storage: lock-free reads, striped writes
//
// Usage:
//
//	d := stackdepot.New()
//	id := d.Capture(1)
//	...
//	fmt.Print(d.Get(id).Format())
package stackdepot

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"unsafe"

	"github.com/puzpuzpuz/xsync/v4"
)

// MaxFrames is the number of frames kept per stack.
const MaxFrames = 16

// StackTrace is a captured stack. Unused trailing slots are zero.
type StackTrace struct {
	PC [MaxFrames]uintptr
}

// Depot is a deduplicating stack store.
//
// Thread Safety: All methods are safe for concurrent use.
type Depot struct {
	stacks *xsync.Map[uint64, *StackTrace]
}

// New creates an empty depot.
func New() *Depot {
	return &Depot{stacks: xsync.NewMap[uint64, *StackTrace]()}
}

// Capture records the caller's stack and returns its ID.
//
// skip counts frames above Capture's caller to omit: 0 starts the trace
// at the function calling Capture.
//
// Returns 0 if no frames are available.
//
// Performance: ~500ns (runtime.Callers + hash); no allocation when the
// stack is already stored.
func (d *Depot) Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	// +2: runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return 0
	}

	id := hashStack(pcs[:n])
	if _, ok := d.stacks.Load(id); ok {
		return id
	}
	d.stacks.LoadOrCompute(id, func() (*StackTrace, bool) {
		return &StackTrace{PC: pcs}, false
	})
	return id
}

// Get returns the stack stored under id, or nil.
func (d *Depot) Get(id uint64) *StackTrace {
	if id == 0 {
		return nil
	}
	st, ok := d.stacks.Load(id)
	if !ok {
		return nil
	}
	return st
}

// Len returns the number of unique stacks stored.
func (d *Depot) Len() int {
	return d.stacks.Size()
}

// hashStack computes FNV-1a over the program counters.
func hashStack(pcs []uintptr) uint64 {
	h := fnv.New64a()
	for i := range pcs {
		//nolint:gosec // G103: Reading the PC value as bytes for hashing.
		b := (*[unsafe.Sizeof(uintptr(0))]byte)(unsafe.Pointer(&pcs[i]))[:]
		_, _ = h.Write(b)
	}
	sum := h.Sum64()
	if sum == 0 {
		// 0 means "no stack".
		sum = 1
	}
	return sum
}

// Format renders the stack for an error report, skipping runtime frames.
//
//	#0 main.worker
//	    /path/to/file.go:45
func (st *StackTrace) Format() string {
	if st == nil {
		return "    <unknown>\n"
	}

	n := 0
	for n < MaxFrames && st.PC[n] != 0 {
		n++
	}
	frames := runtime.CallersFrames(st.PC[:n])

	var buf strings.Builder
	idx := 0
	for {
		frame, more := frames.Next()
		if frame.PC != 0 && !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&buf, "    #%d %s\n", idx, frame.Function)
			fmt.Fprintf(&buf, "        %s:%d\n", frame.File, frame.Line)
			idx++
		}
		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "    <runtime internal>\n"
	}
	return buf.String()
}
