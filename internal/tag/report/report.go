// Package report builds and prints tag-mismatch reports.
//
// A report describes the faulting access, then tries to say what the
// address is: part of a live thread's stack, a live heap chunk, or a chunk
// recently freed (found in some thread's heap-allocation history). Every
// thread mentioned is announced once, so later reports can refer to it by
// its short "T<id>" name.
//
// The reporting thread sits in its symbolizer scope while a report is being
// built and printed. A mismatch raised from inside that scope is not
// reported again.
package report

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kolkov/tagdetector/internal/tag/addr"
	"github.com/kolkov/tagdetector/internal/tag/allocator"
	"github.com/kolkov/tagdetector/internal/tag/stackdepot"
	"github.com/kolkov/tagdetector/internal/tag/thread"
)

// maxStackDepth is the number of frames captured for the faulting access.
const maxStackDepth = 32

// AccessType is the kind of access that faulted.
type AccessType int

const (
	// AccessRead is a load.
	AccessRead AccessType = iota
	// AccessWrite is a store.
	AccessWrite
)

// String returns "READ" or "WRITE".
func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// LocationKind says where the faulting address was found.
type LocationKind int

const (
	// LocationUnknown means no description was found.
	LocationUnknown LocationKind = iota
	// LocationStack is an address inside a live thread's stack.
	LocationStack
	// LocationHeap is an address inside a live heap chunk.
	LocationHeap
	// LocationFreed is an address inside a chunk from a heap history.
	LocationFreed
)

// Heap is the allocator view used to describe heap addresses.
type Heap interface {
	FindChunk(p uintptr) (allocator.Chunk, bool)
}

// Report is one tag mismatch with its address description.
type Report struct {
	Access AccessType
	Ptr    uintptr // tagged
	Size   uintptr
	PtrTag addr.Tag
	MemTag addr.Tag

	// ThreadID is the reporting thread, or -1 when it has no record.
	ThreadID int64
	Stack    []uintptr

	Location LocationKind

	// LocationStack
	StackOwner uint64
	OwnerStack addr.Range

	// LocationHeap
	Chunk allocator.Chunk

	// LocationFreed
	Freed allocator.HeapAllocationRecord

	// DeduplicationKey identifies the faulting site and address.
	DeduplicationKey string
}

// Reporter builds reports against the live thread registry.
//
// Thread Safety: All methods are safe for concurrent use.
type Reporter struct {
	registry *thread.Registry
	heap     Heap
	depot    *stackdepot.Depot

	mu  sync.Mutex
	out io.Writer

	reported *xsync.Map[string, struct{}]
	count    atomic.Uint64
}

// NewReporter creates a reporter printing to w (stderr when nil).
// heap and depot may be nil.
func NewReporter(reg *thread.Registry, heap Heap, depot *stackdepot.Depot, w io.Writer) *Reporter {
	if w == nil {
		w = os.Stderr
	}
	return &Reporter{
		registry: reg,
		heap:     heap,
		depot:    depot,
		out:      w,
		reported: xsync.NewMap[string, struct{}](),
	}
}

// Build describes mm as seen by cur (which may be nil).
func (rp *Reporter) Build(cur *thread.Record, mm *allocator.MismatchError) *Report {
	return rp.build(cur, mm)
}

// build must be called directly from Build or Report.
func (rp *Reporter) build(cur *thread.Record, mm *allocator.MismatchError) *Report {
	r := &Report{
		Ptr:      mm.Ptr,
		Size:     mm.Size,
		PtrTag:   mm.PtrTag,
		MemTag:   mm.MemTag,
		ThreadID: -1,
		// Skip Callers, captureStackTrace, build and Build/Report.
		Stack: captureStackTrace(4),
	}
	if mm.Write {
		r.Access = AccessWrite
	}
	if cur != nil {
		//nolint:gosec // G115: identities stay far below MaxInt64.
		r.ThreadID = int64(cur.UniqueID())
	}

	p := addr.Untag(mm.Ptr)
	rp.registry.ForEachLive(func(t *thread.Record) {
		if r.Location != LocationUnknown {
			return
		}
		if t.AddrIsInStack(p) {
			r.Location = LocationStack
			r.StackOwner = t.UniqueID()
			r.OwnerStack = t.Stack()
		}
	})
	if r.Location == LocationUnknown && rp.heap != nil {
		if ch, ok := rp.heap.FindChunk(p); ok {
			r.Location = LocationHeap
			r.Chunk = ch
		}
	}
	if r.Location == LocationUnknown {
		rp.registry.ForEachLive(func(t *thread.Record) {
			if r.Location != LocationUnknown {
				return
			}
			if rb := t.HeapAllocations(); rb != nil {
				if rec, ok := rb.Find(p); ok {
					r.Location = LocationFreed
					r.Freed = rec
				}
			}
		})
	}

	r.DeduplicationKey = fmt.Sprintf("%s:%#x:%#x", r.Access, userPC(r.Stack), p)
	return r
}

// involved returns the thread identities a report mentions.
func (r *Report) involved() map[uint64]bool {
	ids := make(map[uint64]bool)
	if r.ThreadID >= 0 {
		ids[uint64(r.ThreadID)] = true
	}
	switch r.Location {
	case LocationStack:
		ids[r.StackOwner] = true
	case LocationHeap:
		ids[r.Chunk.OwnerID] = true
	case LocationFreed:
		ids[r.Freed.AllocThreadID] = true
		ids[r.Freed.FreeThreadID] = true
	}
	return ids
}

// Report builds, deduplicates and prints a report for mm.
//
// Returns false when nothing was printed: the report is a duplicate, or cur
// is already inside its symbolizer scope.
func (rp *Reporter) Report(cur *thread.Record, mm *allocator.MismatchError) bool {
	if cur != nil {
		if cur.InSymbolizer() {
			return false
		}
		cur.EnterSymbolizer()
		defer cur.LeaveSymbolizer()
	}

	r := rp.build(cur, mm)
	if _, dup := rp.reported.LoadOrStore(r.DeduplicationKey, struct{}{}); dup {
		return false
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	// Announce prints, so it runs after the registry walk. Records live in
	// the dedicated pool, which never returns memory, and Announce is
	// idempotent.
	ids := r.involved()
	var announce []*thread.Record
	rp.registry.ForEachLive(func(t *thread.Record) {
		if ids[t.UniqueID()] {
			announce = append(announce, t)
		}
	})
	for _, t := range announce {
		t.Announce()
	}
	r.Format(rp.out, rp.depot)
	rp.count.Add(1)
	return true
}

// Count returns the number of reports printed.
func (rp *Reporter) Count() int {
	return int(rp.count.Load())
}

// threadName renders an identity the way Announce does.
func threadName(id uint64) string {
	return fmt.Sprintf("T%d", id)
}

// Format writes the report.
//
//	==================
//	ERROR: TagSanitizer: tag-mismatch on address 0x600000000040
//	READ of size 8 at 0x600000000040 tags: 2c/7d (ptr/mem) in thread T1
//	  main.reader()
//	      /path/to/file.go:15
//
//	0x600000000040 is located 0 bytes inside of 32-byte region [0x600000000040,0x600000000060)
//	freed by thread T1 here:
//	    #0 main.release
//	        /path/to/file.go:9
//	==================
//
//nolint:errcheck // Report output is best effort.
func (r *Report) Format(w io.Writer, depot *stackdepot.Depot) {
	p := addr.Untag(r.Ptr)
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "ERROR: TagSanitizer: tag-mismatch on address %#x\n", p)

	who := "unknown thread"
	if r.ThreadID >= 0 {
		who = "thread " + threadName(uint64(r.ThreadID))
	}
	fmt.Fprintf(w, "%s of size %d at %#x tags: %02x/%02x (ptr/mem) in %s\n",
		r.Access, r.Size, p, uint8(r.PtrTag), uint8(r.MemTag), who)
	fmt.Fprint(w, formatStackTrace(r.Stack))
	fmt.Fprintln(w)

	switch r.Location {
	case LocationStack:
		fmt.Fprintf(w, "Address %#x is located in stack of thread %s %v\n",
			p, threadName(r.StackOwner), r.OwnerStack)
	case LocationHeap:
		fmt.Fprintf(w, "%#x is located %d bytes inside of %d-byte region [%#x,%#x)\n",
			p, p-r.Chunk.Begin, r.Chunk.Size, r.Chunk.Begin, r.Chunk.Begin+r.Chunk.Size)
		fmt.Fprintf(w, "allocated by thread %s here:\n", threadName(r.Chunk.OwnerID))
		fmt.Fprint(w, depotStack(depot, r.Chunk.AllocStack))
	case LocationFreed:
		rg := r.Freed.Range()
		fmt.Fprintf(w, "%#x is located %d bytes inside of %d-byte region [%#x,%#x)\n",
			p, p-rg.Begin, rg.Size(), rg.Begin, rg.End)
		fmt.Fprintf(w, "freed by thread %s here:\n", threadName(r.Freed.FreeThreadID))
		fmt.Fprint(w, depotStack(depot, r.Freed.FreeStack))
		fmt.Fprintf(w, "previously allocated by thread %s here:\n", threadName(r.Freed.AllocThreadID))
		fmt.Fprint(w, depotStack(depot, r.Freed.AllocStack))
	default:
		fmt.Fprintf(w, "Address %#x is not in any known stack or heap chunk\n", p)
	}
	fmt.Fprintf(w, "==================\n")
}

// String returns the formatted report without depot stacks.
func (r *Report) String() string {
	var buf strings.Builder
	r.Format(&buf, nil)
	return buf.String()
}

func depotStack(depot *stackdepot.Depot, id uint64) string {
	if depot == nil || id == 0 {
		return "    <not recorded>\n"
	}
	return depot.Get(id).Format()
}

// captureStackTrace captures the current call stack, skipping skip frames.
func captureStackTrace(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}

// toolFrame reports whether a function belongs to the runtime or this tool.
func toolFrame(function string) bool {
	return strings.HasPrefix(function, "runtime.") ||
		strings.Contains(function, "/internal/tag/")
}

// userPC returns the first program counter outside the tool, or pcs[0].
func userPC(pcs []uintptr) uintptr {
	if len(pcs) == 0 {
		return 0
	}
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if !toolFrame(frame.Function) {
			return frame.PC
		}
		if !more {
			return pcs[0]
		}
	}
}

// formatStackTrace renders program counters, hiding runtime and tool frames.
func formatStackTrace(pcs []uintptr) string {
	if len(pcs) == 0 {
		return "  (no stack trace available)\n"
	}

	frames := runtime.CallersFrames(pcs)
	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if !toolFrame(frame.Function) {
			fmt.Fprintf(&buf, "  %s()\n      %s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	if buf.Len() == 0 {
		return "  (all frames filtered)\n"
	}
	return buf.String()
}
