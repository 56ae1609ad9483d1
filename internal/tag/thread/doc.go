// Package thread implements per-thread state for the memory-tagging runtime.
//
// Every thread (goroutine) that runs instrumented code registers a Record.
// The Record tracks:
//   - Stack and TLS address ranges, used for tag checks and shadow cleanup
//   - A private tag generator (see package rng)
//   - Four nesting counters guarding re-entry into the runtime itself
//   - The thread's allocator cache and a reference to its heap history
//
// All live records are linked into a Registry. The Registry is the only
// shared mutable state: one mutex protects the slot list and the aggregate
// Stats, so that Stats always equals what a walk of the list would compute.
//
// # Lifecycle
//
//	rec, h, err := thread.Create(env) // on the new thread itself
//	...
//	err = rec.Destroy(env, h)         // on the same thread, at exit
//
// Create takes a zeroed Record from a dedicated lowmem.Pool, never from the
// general allocator. A Record that was never initialized is a valid blank
// record: counters read zero and both ranges are empty.
//
// # Reentrancy counters
//
// Enter/Leave pairs must be balanced by the caller. Counters are plain
// fields owned by the thread; they are not checked at runtime. The scoped
// helper WithTaggingDisabled releases on every exit path, including panics.
//
// # Thread Safety
//
// Accessors (StackTop, TLSBegin, AddrIsInStack, UniqueID, ...) read fields
// written once before the record is published by Registry.Insert and may be
// called from any thread, as may Linked. Everything else must be called by
// the owning thread.
package thread
