package api

import "github.com/kolkov/tagdetector/internal/tag/thread"

// GetCurrentThread returns the calling goroutine's record, or nil if it
// has none.
func GetCurrentThread() *thread.Record {
	return current().lookup(getGoroutineID())
}

// SetCurrentThread binds r to the calling goroutine. A nil r clears the
// binding.
//
// If r is linked, ThreadExit on this goroutine destroys it.
func SetCurrentThread(r *thread.Record) {
	s := current()
	var h thread.Handle
	if r != nil {
		h, _ = s.env.Registry.HandleOf(r)
	}
	s.bind(getGoroutineID(), r, h)
}

// binding is a bound record and the registry handle it is destroyed with.
type binding struct {
	rec    *thread.Record
	handle thread.Handle
}

func (s *runtimeState) lookup(gid int64) *thread.Record {
	b, _ := s.bindings.Load(gid)
	return b.rec
}

func (s *runtimeState) bind(gid int64, r *thread.Record, h thread.Handle) {
	if r == nil {
		s.bindings.Delete(gid)
		return
	}
	s.bindings.Store(gid, binding{rec: r, handle: h})
}

// unbind clears the binding of gid and returns what was bound.
func (s *runtimeState) unbind(gid int64) (binding, bool) {
	return s.bindings.LoadAndDelete(gid)
}
