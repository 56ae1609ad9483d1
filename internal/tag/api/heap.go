package api

import (
	"errors"

	"github.com/kolkov/tagdetector/internal/tag/allocator"
	"github.com/kolkov/tagdetector/internal/tag/thread"
)

// ErrNoThread is returned by heap operations on a goroutine without a
// thread record.
var ErrNoThread = errors.New("api: goroutine has no thread record (call ThreadStart)")

// Malloc allocates size bytes tagged with the calling thread's next tag.
func Malloc(size uintptr) (uintptr, error) {
	s := current()
	r := s.lookup(getGoroutineID())
	if r == nil {
		return 0, ErrNoThread
	}
	return s.alloc.Allocate(r, size)
}

// Free releases a chunk returned by Malloc. A tag mismatch is reported.
func Free(ptr uintptr) error {
	s := current()
	r := s.lookup(getGoroutineID())
	if r == nil {
		return ErrNoThread
	}
	return s.check(r, s.alloc.Deallocate(r, ptr))
}

// CheckRead verifies a load of size bytes through ptr.
func CheckRead(ptr, size uintptr) error {
	s := current()
	return s.check(s.lookup(getGoroutineID()), s.alloc.CheckAccess(ptr, size, false))
}

// CheckWrite verifies a store of size bytes through ptr.
func CheckWrite(ptr, size uintptr) error {
	s := current()
	return s.check(s.lookup(getGoroutineID()), s.alloc.CheckAccess(ptr, size, true))
}

// check reports err if it is a tag mismatch and passes it through.
func (s *runtimeState) check(r *thread.Record, err error) error {
	var mm *allocator.MismatchError
	if errors.As(err, &mm) {
		if s.reporter.Report(r, mm) {
			s.log.Warn().Err(err).Msg("tag mismatch reported")
		}
	}
	return err
}

// AllocatorStats returns the process-wide allocator counters.
func AllocatorStats() allocator.Stats {
	return current().alloc.Stats()
}

// ReportCount returns the number of tag-mismatch reports printed.
func ReportCount() int {
	return current().reporter.Count()
}
