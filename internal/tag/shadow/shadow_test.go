package shadow

import (
	"sync"
	"testing"

	"github.com/kolkov/tagdetector/internal/tag/addr"
)

// TestTagRange tests tagging and tag lookup.
func TestTagRange(t *testing.T) {
	m := New()
	r := addr.NewRange(0x1000, 0x1040)
	m.TagRange(r, 0x2a)

	if m.Len() != 4 {
		t.Errorf("Len() = %d, want 4 granules", m.Len())
	}
	for p := r.Begin; p < r.End; p += 8 {
		if got := m.TagAt(p); got != 0x2a {
			t.Errorf("TagAt(%#x) = %#x, want 0x2a", p, got)
		}
	}
	if got := m.TagAt(0x1040); got != addr.NeutralTag {
		t.Errorf("TagAt(end) = %#x, want neutral", got)
	}
}

// TestCheck tests pointer/memory tag comparison.
func TestCheck(t *testing.T) {
	m := New()
	m.TagRange(addr.NewRange(0x2000, 0x2010), 7)

	tests := []struct {
		name string
		ptr  uintptr
		want bool
	}{
		{"matching tag", addr.WithTag(0x2008, 7), true},
		{"mismatched tag", addr.WithTag(0x2008, 8), false},
		{"untagged pointer to tagged memory", 0x2008, false},
		{"untagged memory", addr.WithTag(0x3000, 9), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Check(tt.ptr); got != tt.want {
				t.Errorf("Check(%#x) = %v, want %v", tt.ptr, got, tt.want)
			}
		})
	}

	if !m.CheckRange(addr.WithTag(0x2000, 7), 16) {
		t.Error("CheckRange over matching granule failed")
	}
	if m.CheckRange(addr.WithTag(0x2000, 3), 16) {
		t.Error("CheckRange over mismatched granule succeeded")
	}
}

// TestClearShadow verifies cleared ranges check trivially, for both the
// probing and scanning strategies.
func TestClearShadow(t *testing.T) {
	tests := []struct {
		name  string
		clear addr.Range
	}{
		{"small range", addr.NewRange(0x1000, 0x1100)},
		{"scan large range", addr.NewRange(0, 0x10_0000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.TagRange(addr.NewRange(0x1000, 0x1100), 5)
			m.TagRange(addr.NewRange(0x20_0000, 0x20_0010), 6)

			m.ClearShadow(tt.clear)

			for p := uintptr(0x1000); p < 0x1100; p += addr.GranuleSize {
				if !m.Check(addr.WithTag(p, 0xee)) {
					t.Fatalf("Check(%#x) failed after ClearShadow", p)
				}
			}
			if m.TagAt(0x20_0000) != 6 {
				t.Error("ClearShadow removed a granule outside the range")
			}
		})
	}
}

// TestTagNeutralClears checks that tagging with the neutral tag clears.
func TestTagNeutralClears(t *testing.T) {
	m := New()
	r := addr.NewRange(0x4000, 0x4020)
	m.TagRange(r, 9)
	m.TagRange(r, addr.NeutralTag)
	if m.Len() != 0 {
		t.Errorf("Len() = %d after neutral retag, want 0", m.Len())
	}
}

// TestClearEmpty tests that clearing an empty range is a no-op.
func TestClearEmpty(t *testing.T) {
	m := New()
	m.TagRange(addr.NewRange(0x1000, 0x1010), 1)
	m.ClearShadow(addr.Range{})
	if m.Len() != 1 {
		t.Errorf("empty ClearShadow changed shadow: Len() = %d", m.Len())
	}
}

// TestConcurrentTagging exercises shadow memory from many goroutines.
func TestConcurrentTagging(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base uintptr) {
			defer wg.Done()
			r := addr.NewRange(base, base+0x100)
			for i := 0; i < 50; i++ {
				m.TagRange(r, addr.Tag(i%255+1))
				m.ClearShadow(r)
			}
		}(uintptr(g+1) * 0x10000)
	}
	wg.Wait()
	if m.Len() != 0 {
		t.Errorf("Len() = %d after balanced tag/clear, want 0", m.Len())
	}
}
