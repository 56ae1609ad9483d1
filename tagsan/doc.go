// Package tagsan provides the runtime API of a pure-Go memory-tagging bug
// detector.
//
// Every heap chunk handed out by [Malloc] is colored with a random 8-bit
// tag, and the returned pointer carries the same tag in its top byte. An
// access through a pointer whose tag does not match the memory
// ([CheckRead], [CheckWrite], [Free]) is reported with a description of
// the address: a thread stack, a live chunk or a recently freed one.
//
// # Threads
//
// Each goroutine that allocates must be registered as a thread. Its record
// holds its stack range, its private tag sequence, its allocator cache and
// its heap history, plus the nesting counters that keep the tool from
// checking its own code:
//
//	func main() {
//		tagsan.Init()
//		defer tagsan.Fini()
//
//		tagsan.Go(func() {
//			p, _ := tagsan.Malloc(64)
//			defer tagsan.Free(p)
//			...
//		})
//	}
//
// Scope helpers return their release function so it can be deferred:
//
//	defer tagsan.ScopedTaggingDisabler()()
//
// The tagbalance command checks that these scopes are always released.
//
// # Configuration
//
// Options are read from TAGSAN_OPTIONS (for example
// "random_tags=0:verbose_threads=1") on top of an optional TOML file named
// by TAGSAN_CONFIG:
//
//	random_tags        entropy-seeded tags (default true)
//	verbose_threads    print and log thread creation and destruction
//	heap_history_size  freed chunks remembered per thread (default 1023)
//	max_threads        capacity of the thread record pool (default 8192)
//	stack_size         stack span attributed to each goroutine
//	capture_stacks     record allocation and free stacks (default true)
//	log_level          trace, debug, info, warn, error (default warn)
//	log_format         console or json
//
// # Metrics
//
// [Collector] returns a prometheus.Collector exporting thread and
// allocator statistics.
package tagsan
