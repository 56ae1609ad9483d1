// Package api is the process-wide runtime of the tag detector.
//
// It owns the singletons every thread shares: the thread registry, the
// dedicated record pool, shadow memory, the allocator and the reporter.
// They are created on first use from TAGSAN_CONFIG / TAGSAN_OPTIONS, or
// explicitly with Init.
//
// A "thread" is a goroutine that registered itself with ThreadStart. The
// current-thread binding is keyed by goroutine ID; a goroutine that never
// called ThreadStart has no record and GetCurrentThread returns nil.
package api

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kolkov/tagdetector/internal/tag/allocator"
	"github.com/kolkov/tagdetector/internal/tag/config"
	"github.com/kolkov/tagdetector/internal/tag/logger"
	"github.com/kolkov/tagdetector/internal/tag/lowmem"
	"github.com/kolkov/tagdetector/internal/tag/report"
	"github.com/kolkov/tagdetector/internal/tag/rng"
	"github.com/kolkov/tagdetector/internal/tag/shadow"
	"github.com/kolkov/tagdetector/internal/tag/stackdepot"
	"github.com/kolkov/tagdetector/internal/tag/thread"
)

// runtimeState is everything Init builds. Replaced as a whole by Init.
type runtimeState struct {
	flags    *config.Flags
	env      thread.Env
	shadow   *shadow.Memory
	alloc    *allocator.Allocator
	reporter *report.Reporter

	// bindings maps goroutine IDs to their thread records.
	bindings *xsync.Map[int64, binding]

	log log.Logger
}

var (
	initOnce sync.Once
	rt       atomic.Pointer[runtimeState]

	// fatal handles unrecoverable runtime errors. Replaced in tests.
	fatal = func(l *log.Logger, err error) {
		l.Fatal().Err(err).Msg("cannot continue without thread state")
	}
)

// current returns the runtime, initializing it from the environment on
// first use.
func current() *runtimeState {
	if s := rt.Load(); s != nil {
		return s
	}
	initOnce.Do(func() {
		if rt.Load() != nil {
			return
		}
		f, err := config.FromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tagsan: %v; using defaults\n", err)
			f = config.Default()
		}
		if err := setup(f, nil); err != nil {
			panic(err) // defaults always validate
		}
	})
	return rt.Load()
}

// Init builds a fresh runtime from f. Reports and Announce lines go to w
// (stderr when nil).
//
// Existing thread records and bindings are discarded. Intended for program
// start and tests; do not call while other goroutines use the runtime.
func Init(f *config.Flags, w io.Writer) error {
	if err := setup(f, w); err != nil {
		return err
	}
	initOnce.Do(func() {})
	return nil
}

func setup(f *config.Flags, w io.Writer) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.ConfigureLogging(f)

	pool, err := lowmem.New[thread.Record](f.MaxThreads)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}

	sm := shadow.New()
	depot := stackdepot.New()
	alloc := allocator.New(sm, depot, allocator.Options{
		HistorySize:   f.HeapHistorySize,
		CaptureStacks: f.CaptureStacks,
	})
	reg := thread.NewRegistry()

	s := &runtimeState{
		flags: f,
		env: thread.Env{
			Registry:   reg,
			Memory:     pool,
			Bounds:     goroutineBounds{size: uintptr(f.StackSize)},
			Shadow:     sm,
			Allocator:  alloc,
			Entropy:    rng.CryptoSource{},
			Printer:    thread.WriterPrinter{W: w},
			RandomTags: f.RandomTags,
		},
		shadow:   sm,
		alloc:    alloc,
		reporter: report.NewReporter(reg, alloc, depot, w),
		bindings: xsync.NewMap[int64, binding](),
		log:      logger.NewLoggerWithContext("thread"),
	}
	rt.Store(s)

	s.log.Debug().
		Bool("random_tags", f.RandomTags).
		Int("max_threads", f.MaxThreads).
		Int("heap_history_size", f.HeapHistorySize).
		Msg("tag runtime initialized")
	return nil
}

// Flags returns the active configuration.
func Flags() *config.Flags {
	return current().flags
}
