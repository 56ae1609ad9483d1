package api

import (
	"github.com/kolkov/tagdetector/internal/tag/allocator"
	"github.com/kolkov/tagdetector/internal/tag/thread"
)

// Source exposes the process runtime statistics as a value, for metrics
// collectors.
type Source struct{}

// GetThreadStats calls GetThreadStats.
func (Source) GetThreadStats() thread.Stats { return GetThreadStats() }

// MemoryUsedPerThread calls MemoryUsedPerThread.
func (Source) MemoryUsedPerThread() uintptr { return MemoryUsedPerThread() }

// AllocatorStats calls AllocatorStats.
func (Source) AllocatorStats() allocator.Stats { return AllocatorStats() }

// ReportCount calls ReportCount.
func (Source) ReportCount() int { return ReportCount() }
