package api

import (
	"errors"
	"unsafe"

	"github.com/phuslu/log"

	"github.com/kolkov/tagdetector/internal/tag/allocator"
	"github.com/kolkov/tagdetector/internal/tag/thread"
)

// ThreadStart creates and binds a record for the calling goroutine.
//
// Calling it again on a goroutine that already has a record returns that
// record. Running out of thread records is fatal.
func ThreadStart() *thread.Record {
	s := current()
	gid := getGoroutineID()
	if r := s.lookup(gid); r != nil {
		s.log.Warn().Int64("goid", gid).Stringer("thread", r).Msg("thread already started")
		return r
	}

	r, h, err := thread.Create(&s.env)
	if err != nil {
		fatal(&s.log, err)
		return nil
	}
	s.bind(gid, r, h)

	if s.flags.VerboseThreads {
		if r.IsMainThread() {
			s.env.Printer.Printf("sizeof(Thread): %d sizeof(HeapRB): %d\n",
				unsafe.Sizeof(thread.Record{}), allocator.RingBufferBytes(s.flags.HeapHistorySize))
		}
		r.Print("Creating  : ")
	}
	s.threadEvent(r, gid, "thread started")
	return r
}

// ThreadExit destroys the calling goroutine's record and clears its binding.
// A goroutine without a record is left alone.
func ThreadExit() {
	s := current()
	gid := getGoroutineID()
	b, ok := s.unbind(gid)
	if !ok {
		s.log.Debug().Int64("goid", gid).Msg("thread exit without a record")
		return
	}
	r := b.rec

	if s.flags.VerboseThreads {
		r.Print("Destroying: ")
	}
	s.threadEvent(r, gid, "thread exited")
	if err := r.Destroy(&s.env, b.handle); err != nil {
		if errors.Is(err, thread.ErrNotLinked) {
			s.log.Error().Err(err).Int64("goid", gid).Msg("thread record already destroyed")
			return
		}
		fatal(&s.log, err)
	}
}

// threadEvent logs a lifecycle event, at info level with verbose_threads.
func (s *runtimeState) threadEvent(r *thread.Record, gid int64, msg string) {
	var e *log.Entry
	if s.flags.VerboseThreads {
		e = s.log.Info()
	} else {
		e = s.log.Debug()
	}
	e.Uint64("id", r.UniqueID()).
		Int64("goid", gid).
		Str("stack", r.Stack().String()).
		Msg(msg)
}

// GetThreadStats returns the live thread count and total stack bytes.
func GetThreadStats() thread.Stats {
	return current().env.Registry.Snapshot()
}

// MemoryUsedPerThread returns the runtime memory one thread costs.
func MemoryUsedPerThread() uintptr {
	return thread.MemoryUsedPerThread(current().flags.HeapHistorySize)
}

// ForEachLiveThread calls f for every live record in creation order while
// holding the registry lock.
func ForEachLiveThread(f func(*thread.Record)) {
	current().env.Registry.ForEachLive(f)
}
