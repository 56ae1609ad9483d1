// Package shadow implements the shadow-memory collaborator of the tag runtime.
//
// Shadow memory records the expected tag of every tagged granule
// (addr.GranuleSize bytes). A granule with no shadow entry is untagged: any
// pointer tag matches it. ClearShadow therefore makes every check in a range
// succeed trivially, which is what thread start and thread exit require for
// the thread's stack and TLS.
//
// Storage: cornelk/hashmap keyed by granule address. Lookups are lock-free,
// which matters because Check runs on every instrumented access.
//
// Thread Safety: All methods are safe for concurrent use.
package shadow

import (
	"github.com/cornelk/hashmap"

	"github.com/kolkov/tagdetector/internal/tag/addr"
)

// Memory maps granule addresses to memory tags.
type Memory struct {
	cells *hashmap.Map[uintptr, addr.Tag]
}

// New creates an empty shadow memory.
func New() *Memory {
	return &Memory{cells: hashmap.New[uintptr, addr.Tag]()}
}

// TagRange sets the memory tag of every granule overlapping r.
//
// Tagging with addr.NeutralTag clears the granules instead.
func (m *Memory) TagRange(r addr.Range, t addr.Tag) {
	if t == addr.NeutralTag {
		m.ClearShadow(r)
		return
	}
	for g := addr.RoundDown(r.Begin); g < r.End; g += addr.GranuleSize {
		m.cells.Set(g, t)
	}
}

// ClearShadow removes the shadow entries for every granule overlapping r.
//
// For ranges larger than the live shadow, the map is scanned instead of
// probing each granule, so clearing a large idle stack stays cheap.
func (m *Memory) ClearShadow(r addr.Range) {
	if r.Empty() {
		return
	}
	granules := (addr.RoundUp(r.End) - addr.RoundDown(r.Begin)) / addr.GranuleSize
	if granules > uintptr(m.cells.Len()) {
		var stale []uintptr
		m.cells.Range(func(g uintptr, _ addr.Tag) bool {
			if g+addr.GranuleSize > r.Begin && g < r.End {
				stale = append(stale, g)
			}
			return true
		})
		for _, g := range stale {
			m.cells.Del(g)
		}
		return
	}
	for g := addr.RoundDown(r.Begin); g < r.End; g += addr.GranuleSize {
		m.cells.Del(g)
	}
}

// TagAt returns the memory tag of the granule containing p (untagged or tagged).
func (m *Memory) TagAt(p uintptr) addr.Tag {
	t, ok := m.cells.Get(addr.RoundDown(addr.Untag(p)))
	if !ok {
		return addr.NeutralTag
	}
	return t
}

// Check reports whether the tag carried by ptr matches the memory it points to.
//
// Untagged memory matches any pointer.
//
//go:nosplit
func (m *Memory) Check(ptr uintptr) bool {
	t, ok := m.cells.Get(addr.RoundDown(addr.Untag(ptr)))
	if !ok {
		return true
	}
	return addr.TagOf(ptr) == t
}

// CheckRange reports whether every granule in [ptr, ptr+size) matches ptr's tag.
func (m *Memory) CheckRange(ptr uintptr, size uintptr) bool {
	begin := addr.Untag(ptr)
	tag := addr.TagOf(ptr)
	for g := addr.RoundDown(begin); g < begin+size; g += addr.GranuleSize {
		if t, ok := m.cells.Get(g); ok && t != tag {
			return false
		}
	}
	return true
}

// Len returns the number of tagged granules.
func (m *Memory) Len() int {
	return m.cells.Len()
}
