package thread

import (
	"errors"
	"sync"
)

// ErrNotLinked is returned by Remove for a record or handle that is not in
// the registry.
var ErrNotLinked = errors.New("thread: record not linked")

// Handle identifies a registry slot.
//
// The zero Handle is "not linked". gen starts at 1 and changes every time
// a slot is reused, so a stale handle never matches a newer occupant, even
// when the record pool hands the same memory to that occupant.
type Handle struct {
	index uint32
	gen   uint32
}

// Stats is the registry aggregate.
type Stats struct {
	// LiveThreads is the number of linked records.
	LiveThreads uint64

	// TotalStackBytes is the sum of StackSize over linked records.
	TotalStackBytes uint64
}

// slot is one registry entry. prev/next are slot index + 1 (0 = none).
type slot struct {
	rec  *Record
	gen  uint32
	prev uint32
	next uint32
}

// Registry is the collection of live thread records.
//
// Records are kept in insertion order in an index-linked list over slots
// owned by the registry. Insert returns the Handle that Remove requires;
// the owner keeps it, not the registry. Stats is maintained
// on Insert/Remove so Snapshot is O(1).
//
// The zero Registry is empty and ready to use.
//
// Thread Safety: All methods are safe for concurrent use. ForEachLive holds
// the lock for the whole walk; the visitor must not call back into the
// registry.
type Registry struct {
	mu     sync.Mutex
	slots  []slot
	free   []uint32
	head   uint32
	tail   uint32
	nextID uint64
	stats  Stats
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Insert links r at the end of the list and assigns its identity.
//
// Identities are taken from a counter that starts at zero and never
// repeats. r must not already be linked.
//
// Performance: O(1), one lock acquisition.
func (g *Registry) Insert(r *Record) Handle {
	g.mu.Lock()
	defer g.mu.Unlock()

	var idx uint32
	if n := len(g.free); n > 0 {
		idx = g.free[n-1]
		g.free = g.free[:n-1]
	} else {
		//nolint:gosec // G115: slot count is bounded by the record pool.
		idx = uint32(len(g.slots))
		g.slots = append(g.slots, slot{})
	}

	s := &g.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.rec = r
	s.prev = g.tail
	s.next = 0
	if g.tail != 0 {
		g.slots[g.tail-1].next = idx + 1
	} else {
		g.head = idx + 1
	}
	g.tail = idx + 1

	r.id = g.nextID
	g.nextID++
	r.link = Handle{index: idx, gen: s.gen}
	r.linked.Store(true)

	g.stats.LiveThreads++
	g.stats.TotalStackBytes += uint64(r.StackSize())
	return r.link
}

// Remove unlinks r, which must be the record h was issued for.
//
// Returns ErrNotLinked if h is stale (r was already removed, possibly
// with its memory now reused by a newer record) or if r is not linked in
// this registry under h.
//
// Performance: O(1), one lock acquisition.
func (g *Registry) Remove(r *Record, h Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if h.gen == 0 || int(h.index) >= len(g.slots) {
		return ErrNotLinked
	}
	s := &g.slots[h.index]
	if s.gen != h.gen || s.rec != r {
		return ErrNotLinked
	}

	if s.prev != 0 {
		g.slots[s.prev-1].next = s.next
	} else {
		g.head = s.next
	}
	if s.next != 0 {
		g.slots[s.next-1].prev = s.prev
	} else {
		g.tail = s.prev
	}
	s.rec = nil
	s.prev, s.next = 0, 0
	g.free = append(g.free, h.index)
	r.link = Handle{}
	r.linked.Store(false)

	g.stats.LiveThreads--
	g.stats.TotalStackBytes -= uint64(r.StackSize())
	return nil
}

// HandleOf returns the handle r is currently linked under.
func (g *Registry) HandleOf(r *Record) (Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := r.link
	if h.gen == 0 || int(h.index) >= len(g.slots) {
		return Handle{}, false
	}
	s := &g.slots[h.index]
	if s.gen != h.gen || s.rec != r {
		return Handle{}, false
	}
	return h, true
}

// Snapshot returns the live thread count and total stack bytes.
func (g *Registry) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// ForEachLive calls f for every linked record in insertion order.
//
// The registry lock is held for the whole walk. f must treat records other
// than its own as read-only.
func (g *Registry) ForEachLive(f func(*Record)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := g.head; i != 0; i = g.slots[i-1].next {
		f(g.slots[i-1].rec)
	}
}

// Len returns the number of linked records.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	//nolint:gosec // G115: live count fits in int.
	return int(g.stats.LiveThreads)
}
