// Package allocator implements the tagging allocator collaborator.
//
// The allocator consumes tags produced by the thread runtime: every chunk it
// hands out is colored with the calling thread's next tag, both in shadow
// memory and in the top byte of the returned pointer. When the calling
// thread has tagging disabled it receives the neutral tag instead.
//
// Per-thread state lives in two places:
//   - Cache: owned by the thread record; holds free lists and counters for
//     the thread's own allocations. Released (drained into the allocator),
//     never destroyed, when the thread exits.
//   - RingBuffer: the thread's heap-allocation history. Owned by the
//     Allocator, referenced by the thread record, and consulted by error
//     reports to explain use-after-free.
//
// Address space is simulated: chunks come from a bump region in a reserved
// virtual range so that tests and examples can run without real tagged
// hardware.
package allocator
