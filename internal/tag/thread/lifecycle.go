package thread

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/kolkov/tagdetector/internal/tag/addr"
	"github.com/kolkov/tagdetector/internal/tag/allocator"
	"github.com/kolkov/tagdetector/internal/tag/lowmem"
	"github.com/kolkov/tagdetector/internal/tag/rng"
)

// ErrIncompleteEnv is returned by Create when Env lacks a registry or a
// record pool.
var ErrIncompleteEnv = errors.New("thread: env needs a registry and a record pool")

// ShadowClearer is the shadow-memory collaborator.
//
// ClearShadow must make the tag check of every address in r succeed.
type ShadowClearer interface {
	ClearShadow(r addr.Range)
}

// Allocator is the allocator collaborator.
type Allocator interface {
	// HeapHistory returns a heap-allocation history owned by the allocator.
	HeapHistory() *allocator.RingBuffer

	// DropHistory tells the allocator the thread no longer references rb.
	DropHistory(rb *allocator.RingBuffer)

	// ReleaseCache drains a thread's cache. The cache is not destroyed.
	ReleaseCache(c *allocator.Cache)
}

// BoundsProvider reports the address ranges of the calling thread.
type BoundsProvider interface {
	StackBounds() addr.Range
	TLSBounds() addr.Range
}

// Env bundles the collaborators used by Create and Destroy.
//
// Registry and Memory are required. Nil Bounds gives empty ranges, nil
// Shadow and Allocator are skipped, nil Entropy uses rng.CryptoSource and
// nil Printer prints to stderr.
type Env struct {
	Registry  *Registry
	Memory    *lowmem.Pool[Record]
	Bounds    BoundsProvider
	Shadow    ShadowClearer
	Allocator Allocator
	Entropy   rng.EntropySource
	Printer   Printer

	// RandomTags selects entropy-seeded tags. When false, tags are
	// sequential starting after the thread identity.
	RandomTags bool
}

// Create initializes the calling thread's record and links it.
//
// Must be called by the thread itself, once, before any instrumented code
// runs on it. The returned Handle is what Destroy needs; the caller keeps
// it for the record's lifetime. Errors wrapping lowmem.ErrExhausted mean
// the dedicated pool is out of records; callers treat this as fatal.
func Create(env *Env) (*Record, Handle, error) {
	if env.Memory == nil || env.Registry == nil {
		return nil, Handle{}, ErrIncompleteEnv
	}
	r, err := env.Memory.Alloc()
	if err != nil {
		return nil, Handle{}, fmt.Errorf("thread: allocate record: %w", err)
	}

	if env.Bounds != nil {
		r.stack = env.Bounds.StackBounds()
		r.tls = env.Bounds.TLSBounds()
	}
	r.printer = env.Printer
	if env.Allocator != nil {
		r.heapAllocations = env.Allocator.HeapHistory()
	}
	r.clearShadow(env)

	// Publishes the record and assigns r.id.
	h := env.Registry.Insert(r)

	if env.RandomTags {
		src := env.Entropy
		if src == nil {
			src = rng.CryptoSource{}
		}
		r.random.Seed(src.Seed())
	} else {
		//nolint:gosec // G115: Truncation is fine for seed material.
		r.random.SeedSequential(uint32(r.id))
	}
	return r, h, nil
}

// Destroy unlinks the record and releases its resources. h is the handle
// Create returned for r.
//
// Must be called by the owning thread. Returns ErrNotLinked if h no longer
// names r, which is the case after a first Destroy even once the pool has
// handed the same memory to a new thread; nothing is touched then. The
// record memory goes back to env.Memory and must not be used afterwards.
func (r *Record) Destroy(env *Env, h Handle) error {
	if err := env.Registry.Remove(r, h); err != nil {
		return err
	}

	r.clearShadow(env)
	if env.Allocator != nil {
		env.Allocator.ReleaseCache(&r.cache)
		env.Allocator.DropHistory(r.heapAllocations)
	}
	r.heapAllocations = nil

	if err := env.Memory.Free(r); err != nil {
		return fmt.Errorf("thread: free record: %w", err)
	}
	return nil
}

func (r *Record) clearShadow(env *Env) {
	if env.Shadow == nil {
		return
	}
	if !r.stack.Empty() {
		env.Shadow.ClearShadow(r.stack)
	}
	if !r.tls.Empty() {
		env.Shadow.ClearShadow(r.tls)
	}
}

// MemoryUsedPerThread returns the bytes of runtime state one thread costs:
// the record itself plus a heap history of historySize entries.
func MemoryUsedPerThread(historySize int) uintptr {
	return unsafe.Sizeof(Record{}) + allocator.RingBufferBytes(historySize)
}
