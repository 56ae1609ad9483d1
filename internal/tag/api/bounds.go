package api

import (
	"os"
	"unsafe"

	"github.com/kolkov/tagdetector/internal/tag/addr"
)

var pageSize = uintptr(os.Getpagesize())

// goroutineBounds attributes a stack span to the calling goroutine.
//
// Go stacks grow and move, so the span is a snapshot: it ends at the page
// boundary above the caller's frame and extends size bytes down. Goroutines have
// no TLS block, so TLS is always empty.
type goroutineBounds struct {
	size uintptr
}

// StackBounds implements thread.BoundsProvider.
func (b goroutineBounds) StackBounds() addr.Range {
	var marker byte
	//nolint:gosec // G103: Only the address value is used.
	sp := uintptr(unsafe.Pointer(&marker))
	top := sp&^(pageSize-1) + pageSize
	bottom := uintptr(0)
	if top > b.size {
		bottom = top - b.size
	}
	return addr.NewRange(bottom, top)
}

// TLSBounds implements thread.BoundsProvider.
func (goroutineBounds) TLSBounds() addr.Range {
	return addr.Range{}
}
