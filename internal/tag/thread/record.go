package thread

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/kolkov/tagdetector/internal/tag/addr"
	"github.com/kolkov/tagdetector/internal/tag/allocator"
	"github.com/kolkov/tagdetector/internal/tag/rng"
)

// Printer is the diagnostic text sink used by Announce.
type Printer interface {
	Printf(format string, args ...any)
}

// WriterPrinter prints to an io.Writer. A nil W prints to stderr.
type WriterPrinter struct {
	W io.Writer
}

// Printf implements Printer.
func (p WriterPrinter) Printf(format string, args ...any) {
	w := p.W
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, format, args...)
}

// Record is the runtime state of one thread.
//
// The zero Record is a valid blank record (see Blank).
type Record struct {
	// Set once by Create, read-only afterwards.
	stack addr.Range
	tls   addr.Range

	// id is assigned by Registry.Insert, counting from zero.
	id uint64

	announced atomic.Bool
	printer   Printer

	// Nesting counters. Owned by the thread.
	inSignalHandler    uint32
	inSymbolizer       uint32
	inInterceptorScope uint32
	taggingDisabled    uint32 // if non-zero, allocations use the neutral tag

	random rng.Generator

	cache           allocator.Cache
	heapAllocations *allocator.RingBuffer // not owned

	// link is the registry slot handle, guarded by the registry lock.
	// linked mirrors link.gen != 0 for lock-free readers.
	link   Handle
	linked atomic.Bool
}

// Blank returns a new uninitialized record.
//
// A blank record is legally inert: all counters are zero, both ranges are
// empty, it has no identity link and GenerateRandomTag still works.
func Blank() *Record {
	return &Record{}
}

// StackTop returns the (exclusive) upper bound of the stack.
func (r *Record) StackTop() uintptr { return r.stack.End }

// StackBottom returns the lower bound of the stack.
func (r *Record) StackBottom() uintptr { return r.stack.Begin }

// StackSize returns StackTop - StackBottom.
func (r *Record) StackSize() uintptr { return r.stack.Size() }

// Stack returns the stack range [bottom, top).
func (r *Record) Stack() addr.Range { return r.stack }

// TLSBegin returns the start of the thread-local storage block.
func (r *Record) TLSBegin() uintptr { return r.tls.Begin }

// TLSEnd returns the end of the thread-local storage block.
func (r *Record) TLSEnd() uintptr { return r.tls.End }

// TLS returns the TLS range [begin, end). May be empty.
func (r *Record) TLS() addr.Range { return r.tls }

// AddrIsInStack reports whether StackBottom <= p < StackTop.
//
//go:nosplit
func (r *Record) AddrIsInStack(p uintptr) bool {
	return r.stack.Contains(p)
}

// UniqueID returns the identity assigned at creation.
func (r *Record) UniqueID() uint64 { return r.id }

// IsMainThread reports whether this is the first thread ever created.
func (r *Record) IsMainThread() bool { return r.id == 0 }

// Linked reports whether the record is currently in a registry.
func (r *Record) Linked() bool { return r.linked.Load() }

// InSignalHandler reports whether the thread is inside a signal handler.
func (r *Record) InSignalHandler() bool { return r.inSignalHandler > 0 }

// EnterSignalHandler increments the signal-handler depth.
func (r *Record) EnterSignalHandler() { r.inSignalHandler++ }

// LeaveSignalHandler decrements the signal-handler depth.
func (r *Record) LeaveSignalHandler() { r.inSignalHandler-- }

// SignalHandlerDepth returns the signal-handler nesting depth.
func (r *Record) SignalHandlerDepth() uint32 { return r.inSignalHandler }

// InSymbolizer reports whether the thread is inside symbolization.
func (r *Record) InSymbolizer() bool { return r.inSymbolizer > 0 }

// EnterSymbolizer increments the symbolizer depth.
func (r *Record) EnterSymbolizer() { r.inSymbolizer++ }

// LeaveSymbolizer decrements the symbolizer depth.
func (r *Record) LeaveSymbolizer() { r.inSymbolizer-- }

// SymbolizerDepth returns the symbolizer nesting depth.
func (r *Record) SymbolizerDepth() uint32 { return r.inSymbolizer }

// InInterceptorScope reports whether the thread is inside an interceptor.
func (r *Record) InInterceptorScope() bool { return r.inInterceptorScope > 0 }

// EnterInterceptorScope increments the interceptor depth.
func (r *Record) EnterInterceptorScope() { r.inInterceptorScope++ }

// LeaveInterceptorScope decrements the interceptor depth.
func (r *Record) LeaveInterceptorScope() { r.inInterceptorScope-- }

// InterceptorScopeDepth returns the interceptor nesting depth.
func (r *Record) InterceptorScopeDepth() uint32 { return r.inInterceptorScope }

// DisableTagging increments the tagging-suppression depth.
func (r *Record) DisableTagging() { r.taggingDisabled++ }

// EnableTagging decrements the tagging-suppression depth.
func (r *Record) EnableTagging() { r.taggingDisabled-- }

// TaggingIsDisabled reports whether allocations must use the neutral tag.
func (r *Record) TaggingIsDisabled() bool { return r.taggingDisabled > 0 }

// TaggingSuppressionDepth returns the tagging-suppression nesting depth.
func (r *Record) TaggingSuppressionDepth() uint32 { return r.taggingDisabled }

// WithTaggingDisabled runs fn with tagging suppressed.
//
// The suppression is released on every exit path of fn, including panics.
func (r *Record) WithTaggingDisabled(fn func()) {
	r.DisableTagging()
	defer r.EnableTagging()
	fn()
}

// GenerateRandomTag returns the tag for the thread's next allocation.
//
// Returns addr.NeutralTag while tagging is disabled. Otherwise never
// returns the neutral tag.
//
// This is the allocation HOT PATH: no locks, no allocations.
//
//go:nosplit
func (r *Record) GenerateRandomTag() addr.Tag {
	if r.taggingDisabled > 0 {
		return addr.NeutralTag
	}
	return addr.Tag(r.random.Next())
}

// AllocatorCache returns the thread's allocator cache.
func (r *Record) AllocatorCache() *allocator.Cache { return &r.cache }

// HeapAllocations returns the thread's heap history (may be nil).
func (r *Record) HeapAllocations() *allocator.RingBuffer { return r.heapAllocations }

// Announce prints the thread's identity line once.
//
// Subsequent calls are no-ops. Safe to call from any thread.
func (r *Record) Announce() {
	if !r.announced.CompareAndSwap(false, true) {
		return
	}
	r.Print("Thread: ")
}

// Announced reports whether Announce has printed.
func (r *Record) Announced() bool { return r.announced.Load() }

// Print emits the identity line after prefix:
//
//	Thread: T1 0xc000123400 stack: [0x1000,0x3000) sz: 8192 tls: [0x0,0x0)
func (r *Record) Print(prefix string) {
	p := r.printer
	if p == nil {
		p = WriterPrinter{}
	}
	p.Printf("%sT%d %p stack: [%#x,%#x) sz: %d tls: [%#x,%#x)\n",
		prefix, r.id, r,
		r.stack.Begin, r.stack.End, r.stack.Size(),
		r.tls.Begin, r.tls.End)
}

// String returns a short label for logs and reports, e.g. "T3".
func (r *Record) String() string {
	return fmt.Sprintf("T%d", r.id)
}
