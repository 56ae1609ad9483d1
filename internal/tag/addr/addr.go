// Package addr implements address ranges and tagged pointers for the tag runtime.
//
// A tagged pointer carries its allocation tag in the top byte:
//
//	[Tag:8][Address:56]
//
// This mirrors the hardware top-byte-ignore layout, so tagging and untagging
// are single shift/mask operations on the allocation fast path.
package addr

import "fmt"

// Tag is a memory tag. Zero is the neutral tag used when tagging is disabled.
type Tag uint8

const (
	// TagShift is the bit position of the tag in a tagged pointer.
	TagShift = 56

	// AddrMask extracts the untagged address (low 56 bits).
	AddrMask = (uintptr(1) << TagShift) - 1

	// NeutralTag is the tag used for memory whose tagging is suppressed.
	NeutralTag Tag = 0

	// GranuleSize is the number of bytes covered by one shadow tag.
	GranuleSize = 16
)

// WithTag returns p with its top byte replaced by t.
//
//go:nosplit
func WithTag(p uintptr, t Tag) uintptr {
	return (p & AddrMask) | uintptr(t)<<TagShift
}

// TagOf extracts the tag from a tagged pointer.
//
//go:nosplit
func TagOf(p uintptr) Tag {
	//nolint:gosec // G115: Intentional truncation to the top byte.
	return Tag(p >> TagShift)
}

// Untag strips the tag from a tagged pointer.
//
//go:nosplit
func Untag(p uintptr) uintptr {
	return p & AddrMask
}

// RoundDown aligns p down to the granule boundary.
func RoundDown(p uintptr) uintptr {
	return p &^ (GranuleSize - 1)
}

// RoundUp aligns p up to the granule boundary.
func RoundUp(p uintptr) uintptr {
	return (p + GranuleSize - 1) &^ (GranuleSize - 1)
}

// Range is a half-open address interval [Begin, End).
//
// The zero Range is empty and contains no address.
type Range struct {
	Begin uintptr
	End   uintptr
}

// NewRange returns [begin, end). If end < begin the range is collapsed to
// the empty range at begin.
func NewRange(begin, end uintptr) Range {
	if end < begin {
		end = begin
	}
	return Range{Begin: begin, End: end}
}

// Size returns End - Begin.
func (r Range) Size() uintptr {
	return r.End - r.Begin
}

// Empty reports whether the range contains no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Begin
}

// Contains reports whether Begin <= p < End.
//
//go:nosplit
func (r Range) Contains(p uintptr) bool {
	return p >= r.Begin && p < r.End
}

// String formats the range as [0xbegin,0xend).
func (r Range) String() string {
	return fmt.Sprintf("[%#x,%#x)", r.Begin, r.End)
}
