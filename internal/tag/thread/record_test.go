package thread

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kolkov/tagdetector/internal/tag/addr"
)

// verifyBlank checks that a record reads as a blank record.
func verifyBlank(t *testing.T, r *Record) {
	t.Helper()
	if r.SignalHandlerDepth() != 0 || r.SymbolizerDepth() != 0 ||
		r.InterceptorScopeDepth() != 0 || r.TaggingSuppressionDepth() != 0 {
		t.Errorf("blank record has non-zero counters: %d %d %d %d",
			r.SignalHandlerDepth(), r.SymbolizerDepth(),
			r.InterceptorScopeDepth(), r.TaggingSuppressionDepth())
	}
	if r.InSignalHandler() || r.InSymbolizer() || r.InInterceptorScope() || r.TaggingIsDisabled() {
		t.Error("blank record reports being inside a scope")
	}
	if !r.Stack().Empty() || !r.TLS().Empty() || r.StackSize() != 0 {
		t.Errorf("blank record has non-empty ranges: stack %v tls %v", r.Stack(), r.TLS())
	}
	if r.Linked() {
		t.Error("blank record claims to be linked")
	}
	if r.HeapAllocations() != nil {
		t.Error("blank record has a heap history")
	}
}

// TestBlank tests the explicit empty record and the Go zero value.
func TestBlank(t *testing.T) {
	verifyBlank(t, Blank())

	var z Record
	verifyBlank(t, &z)

	if z.AddrIsInStack(0) {
		t.Error("blank record contains address 0 in its stack")
	}
	if tag := z.GenerateRandomTag(); tag == addr.NeutralTag {
		t.Error("blank record generated neutral tag with tagging enabled")
	}
	if z.AllocatorCache() == nil || z.AllocatorCache().Allocs() != 0 {
		t.Error("blank record cache not empty")
	}
}

// TestCounters checks every enter/leave pair tracks enters - leaves.
func TestCounters(t *testing.T) {
	tests := []struct {
		name  string
		enter func(*Record)
		leave func(*Record)
		depth func(*Record) uint32
		in    func(*Record) bool
	}{
		{"signal handler", (*Record).EnterSignalHandler, (*Record).LeaveSignalHandler,
			(*Record).SignalHandlerDepth, (*Record).InSignalHandler},
		{"symbolizer", (*Record).EnterSymbolizer, (*Record).LeaveSymbolizer,
			(*Record).SymbolizerDepth, (*Record).InSymbolizer},
		{"interceptor", (*Record).EnterInterceptorScope, (*Record).LeaveInterceptorScope,
			(*Record).InterceptorScopeDepth, (*Record).InInterceptorScope},
		{"tagging", (*Record).DisableTagging, (*Record).EnableTagging,
			(*Record).TaggingSuppressionDepth, (*Record).TaggingIsDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Record
			ops := []bool{true, true, false, true, false, false} // enter=true
			want := uint32(0)
			for i, enter := range ops {
				if enter {
					tt.enter(&r)
					want++
				} else {
					tt.leave(&r)
					want--
				}
				if got := tt.depth(&r); got != want {
					t.Fatalf("after op %d depth = %d, want %d", i, got, want)
				}
				if tt.in(&r) != (want > 0) {
					t.Fatalf("after op %d in-scope = %v, want %v", i, tt.in(&r), want > 0)
				}
			}
		})
	}
}

// TestCountersIndependent verifies the four counters do not interact.
func TestCountersIndependent(t *testing.T) {
	var r Record
	r.EnterSignalHandler()
	r.EnterSignalHandler()
	r.EnterSymbolizer()

	if r.InInterceptorScope() || r.TaggingIsDisabled() {
		t.Error("entering signal handler / symbolizer affected other counters")
	}
	if r.SignalHandlerDepth() != 2 || r.SymbolizerDepth() != 1 {
		t.Errorf("depths = %d, %d, want 2, 1", r.SignalHandlerDepth(), r.SymbolizerDepth())
	}
}

// TestTaggingDisabledForcesNeutralTag tests the suppression side effect.
func TestTaggingDisabledForcesNeutralTag(t *testing.T) {
	var r Record
	r.random.Seed(1)

	r.DisableTagging()
	r.DisableTagging()
	for i := 0; i < 10; i++ {
		if tag := r.GenerateRandomTag(); tag != addr.NeutralTag {
			t.Fatalf("tag = %#x while disabled, want neutral", tag)
		}
	}
	r.EnableTagging()
	if tag := r.GenerateRandomTag(); tag != addr.NeutralTag {
		t.Fatalf("tag = %#x at depth 1, want neutral", tag)
	}
	r.EnableTagging()
	if tag := r.GenerateRandomTag(); tag == addr.NeutralTag {
		t.Fatal("neutral tag after tagging re-enabled")
	}
}

// TestWithTaggingDisabled checks the scoped helper on normal and panic exits.
func TestWithTaggingDisabled(t *testing.T) {
	var r Record

	r.WithTaggingDisabled(func() {
		if !r.TaggingIsDisabled() {
			t.Error("tagging not disabled inside scope")
		}
		r.WithTaggingDisabled(func() {
			if r.TaggingSuppressionDepth() != 2 {
				t.Errorf("nested depth = %d, want 2", r.TaggingSuppressionDepth())
			}
		})
	})
	if r.TaggingSuppressionDepth() != 0 {
		t.Fatalf("depth = %d after scope, want 0", r.TaggingSuppressionDepth())
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic not propagated")
			}
		}()
		r.WithTaggingDisabled(func() { panic("boom") })
	}()
	if r.TaggingSuppressionDepth() != 0 {
		t.Errorf("depth = %d after panic, want 0", r.TaggingSuppressionDepth())
	}
}

// TestAddrIsInStack checks the half-open stack bounds.
func TestAddrIsInStack(t *testing.T) {
	r := Record{stack: addr.NewRange(0x10000, 0x12000)}

	tests := []struct {
		name string
		p    uintptr
		want bool
	}{
		{"bottom", 0x10000, true},
		{"middle", 0x11000, true},
		{"last byte", 0x11fff, true},
		{"top", 0x12000, false},
		{"below bottom", 0x0ffff, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.AddrIsInStack(tt.p); got != tt.want {
				t.Errorf("AddrIsInStack(%#x) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}

	if r.StackBottom() != 0x10000 || r.StackTop() != 0x12000 || r.StackSize() != 0x2000 {
		t.Errorf("stack accessors = [%#x,%#x) %d", r.StackBottom(), r.StackTop(), r.StackSize())
	}
}

// TestAnnounceOnce verifies the identity line is printed exactly once.
func TestAnnounceOnce(t *testing.T) {
	var buf bytes.Buffer
	r := Record{
		stack:   addr.NewRange(0x1000, 0x3000),
		tls:     addr.NewRange(0x5000, 0x5100),
		id:      7,
		printer: WriterPrinter{W: &buf},
	}

	r.Announce()
	r.Announce()

	out := buf.String()
	if strings.Count(out, "Thread: ") != 1 {
		t.Fatalf("Announce printed %d times:\n%s", strings.Count(out, "Thread: "), out)
	}
	for _, want := range []string{"T7 ", "stack: [0x1000,0x3000)", "sz: 8192", "tls: [0x5000,0x5100)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Announce output %q missing %q", out, want)
		}
	}
	if !r.Announced() {
		t.Error("Announced() = false after Announce")
	}
	if r.String() != "T7" {
		t.Errorf("String() = %q, want T7", r.String())
	}
}
