// Package metrics exports thread runtime statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kolkov/tagdetector/internal/tag/allocator"
	"github.com/kolkov/tagdetector/internal/tag/thread"
)

// Source provides the values exported on each scrape.
type Source interface {
	GetThreadStats() thread.Stats
	MemoryUsedPerThread() uintptr
	AllocatorStats() allocator.Stats
	ReportCount() int
}

// ThreadCollector implements prometheus.Collector for the thread runtime.
//
// Metrics are built from a fresh Source snapshot on every scrape; the
// collector holds no state of its own.
type ThreadCollector struct {
	src Source

	liveThreads    *prometheus.Desc
	stackBytes     *prometheus.Desc
	perThreadBytes *prometheus.Desc
	allocs         *prometheus.Desc
	frees          *prometheus.Desc
	liveChunks     *prometheus.Desc
	mismatches     *prometheus.Desc
	reports        *prometheus.Desc
	releasedCaches *prometheus.Desc
}

// NewThreadCollector creates a collector reading from src.
func NewThreadCollector(src Source) *ThreadCollector {
	return &ThreadCollector{
		src: src,
		liveThreads: prometheus.NewDesc(
			"tagsan_live_threads",
			"Number of registered threads",
			nil, nil,
		),
		stackBytes: prometheus.NewDesc(
			"tagsan_thread_stack_bytes",
			"Total stack bytes of registered threads",
			nil, nil,
		),
		perThreadBytes: prometheus.NewDesc(
			"tagsan_memory_per_thread_bytes",
			"Runtime memory used by one thread record and its heap history",
			nil, nil,
		),
		allocs: prometheus.NewDesc(
			"tagsan_allocations_total",
			"Total tagged heap allocations",
			nil, nil,
		),
		frees: prometheus.NewDesc(
			"tagsan_frees_total",
			"Total tagged heap frees",
			nil, nil,
		),
		liveChunks: prometheus.NewDesc(
			"tagsan_live_chunks",
			"Number of live tagged heap chunks",
			nil, nil,
		),
		mismatches: prometheus.NewDesc(
			"tagsan_tag_mismatches_total",
			"Total tag mismatches detected",
			nil, nil,
		),
		reports: prometheus.NewDesc(
			"tagsan_reports_total",
			"Total tag-mismatch reports printed after deduplication",
			nil, nil,
		),
		releasedCaches: prometheus.NewDesc(
			"tagsan_released_caches_total",
			"Total thread allocator caches released on thread exit",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *ThreadCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.liveThreads
	ch <- c.stackBytes
	ch <- c.perThreadBytes
	ch <- c.allocs
	ch <- c.frees
	ch <- c.liveChunks
	ch <- c.mismatches
	ch <- c.reports
	ch <- c.releasedCaches
}

// Collect implements prometheus.Collector.
func (c *ThreadCollector) Collect(ch chan<- prometheus.Metric) {
	ts := c.src.GetThreadStats()
	as := c.src.AllocatorStats()

	ch <- prometheus.MustNewConstMetric(c.liveThreads, prometheus.GaugeValue, float64(ts.LiveThreads))
	ch <- prometheus.MustNewConstMetric(c.stackBytes, prometheus.GaugeValue, float64(ts.TotalStackBytes))
	ch <- prometheus.MustNewConstMetric(c.perThreadBytes, prometheus.GaugeValue, float64(c.src.MemoryUsedPerThread()))
	ch <- prometheus.MustNewConstMetric(c.allocs, prometheus.CounterValue, float64(as.Allocs))
	ch <- prometheus.MustNewConstMetric(c.frees, prometheus.CounterValue, float64(as.Frees))
	ch <- prometheus.MustNewConstMetric(c.liveChunks, prometheus.GaugeValue, float64(as.LiveChunks))
	ch <- prometheus.MustNewConstMetric(c.mismatches, prometheus.CounterValue, float64(as.Mismatches))
	ch <- prometheus.MustNewConstMetric(c.reports, prometheus.CounterValue, float64(c.src.ReportCount()))
	ch <- prometheus.MustNewConstMetric(c.releasedCaches, prometheus.CounterValue, float64(as.ReleasedCaches))
}
