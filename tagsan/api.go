package tagsan

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kolkov/tagdetector/internal/tag/allocator"
	internal "github.com/kolkov/tagdetector/internal/tag/api"
	"github.com/kolkov/tagdetector/internal/tag/config"
	"github.com/kolkov/tagdetector/internal/tag/metrics"
	"github.com/kolkov/tagdetector/internal/tag/thread"
)

// Thread is the runtime state of one registered goroutine.
type Thread = thread.Record

// ThreadStats is the live thread count and their total stack bytes.
type ThreadStats = thread.Stats

// Errors returned by heap operations.
var (
	// ErrTagMismatch matches errors for accesses whose pointer tag
	// differs from the memory tag.
	ErrTagMismatch = allocator.ErrTagMismatch

	// ErrInvalidFree is returned by Free for a pointer that is not a live chunk.
	ErrInvalidFree = allocator.ErrInvalidFree

	// ErrNoThread is returned when the calling goroutine is not registered.
	ErrNoThread = internal.ErrNoThread
)

// Init registers the calling goroutine as the main thread.
//
// The runtime itself is configured from TAGSAN_CONFIG and TAGSAN_OPTIONS
// on first use. Calling Init again on the same goroutine is a no-op.
//
//	func main() {
//		tagsan.Init()
//		defer tagsan.Fini()
//		// ... rest of program
//	}
func Init() {
	if internal.GetCurrentThread() == nil {
		internal.ThreadStart()
	}
}

// InitWithOptions rebuilds the runtime from defaults plus an option string
// ("random_tags=0:max_threads=64") and registers the calling goroutine.
//
// All previously registered threads are forgotten.
func InitWithOptions(opts string) error {
	f := config.Default()
	if err := f.ParseOptions(opts); err != nil {
		return err
	}
	if err := internal.Init(f, nil); err != nil {
		return err
	}
	internal.ThreadStart()
	return nil
}

// Fini unregisters the calling goroutine and prints a summary if any tag
// mismatch was reported.
func Fini() {
	internal.ThreadExit()
	if n := internal.ReportCount(); n > 0 {
		fmt.Fprintf(os.Stderr, "TagSanitizer: reported %d tag mismatch(es)\n", n)
	}
}

// ThreadStart registers the calling goroutine and returns its record.
func ThreadStart() *Thread {
	return internal.ThreadStart()
}

// ThreadExit unregisters the calling goroutine.
func ThreadExit() {
	internal.ThreadExit()
}

// Current returns the calling goroutine's record, or nil.
func Current() *Thread {
	return internal.GetCurrentThread()
}

// Go runs fn on a new goroutine registered as a thread for its duration.
func Go(fn func()) {
	go func() {
		internal.ThreadStart()
		defer internal.ThreadExit()
		fn()
	}()
}

// Stats returns the live thread count and total stack bytes.
func Stats() ThreadStats {
	return internal.GetThreadStats()
}

// MemoryUsedPerThread returns the runtime memory one thread costs.
func MemoryUsedPerThread() uintptr {
	return internal.MemoryUsedPerThread()
}

// ForEachThread calls f for every live thread in creation order.
// f must not start or exit threads.
func ForEachThread(f func(*Thread)) {
	internal.ForEachLiveThread(f)
}

// ScopedTaggingDisabler makes the calling thread's allocations untagged
// until the returned function runs.
//
//	defer tagsan.ScopedTaggingDisabler()()
func ScopedTaggingDisabler() func() {
	return internal.ScopedTaggingDisabler()
}

// EnterInterceptor marks the calling thread as inside an interceptor until
// the returned function runs.
func EnterInterceptor() func() {
	return internal.EnterInterceptor()
}

// EnterSignalHandler marks the calling thread as inside a signal handler
// until the returned function runs.
func EnterSignalHandler() func() {
	return internal.EnterSignalHandler()
}

// EnterSymbolizer marks the calling thread as inside the symbolizer until
// the returned function runs.
func EnterSymbolizer() func() {
	return internal.EnterSymbolizer()
}

// Malloc returns a tagged pointer to size bytes of simulated heap.
func Malloc(size uintptr) (uintptr, error) {
	return internal.Malloc(size)
}

// Free releases a chunk returned by Malloc.
func Free(ptr uintptr) error {
	return internal.Free(ptr)
}

// CheckRead checks a load of size bytes through ptr.
func CheckRead(ptr, size uintptr) error {
	return internal.CheckRead(ptr, size)
}

// CheckWrite checks a store of size bytes through ptr.
func CheckWrite(ptr, size uintptr) error {
	return internal.CheckWrite(ptr, size)
}

// ReportsPrinted returns the number of tag-mismatch reports printed.
func ReportsPrinted() int {
	return internal.ReportCount()
}

// Collector returns a Prometheus collector for the runtime statistics.
func Collector() prometheus.Collector {
	return metrics.NewThreadCollector(internal.Source{})
}
