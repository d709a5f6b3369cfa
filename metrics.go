package ftindex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    docCounter     prometheus.Counter
//	    flushHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordFlush(docs int, duration time.Duration, err error) {
//	    p.flushHistogram.Observe(duration.Seconds())
//	}
type MetricsCollector interface {
	// RecordDocument is called after each added or updated document.
	RecordDocument(duration time.Duration, err error)

	// RecordDelete is called after each delete or doc-values update call.
	// count is the number of terms or queries passed.
	RecordDelete(count int, err error)

	// RecordFlush is called after a per-thread context was flushed.
	RecordFlush(docs int, duration time.Duration, err error)

	// RecordPublish is called for every published segment (segment=true)
	// or global update packet (segment=false).
	RecordPublish(segment bool, err error)

	// RecordPurge is called after each flush queue purge that removed at
	// least one ticket or failed.
	RecordPurge(published int, err error)

	// RecordCommit is called after each commit.
	RecordCommit(duration time.Duration, err error)

	// RecordAcquireWait is called with the time spent waiting for a thread
	// state.
	RecordAcquireWait(duration time.Duration)

	// RecordStall is called with the time a document waited for running
	// flushes to free RAM.
	RecordStall(duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordDocument(time.Duration, error)   {}
func (NoopMetricsCollector) RecordDelete(int, error)               {}
func (NoopMetricsCollector) RecordFlush(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordPublish(bool, error)             {}
func (NoopMetricsCollector) RecordPurge(int, error)                {}
func (NoopMetricsCollector) RecordCommit(time.Duration, error)     {}
func (NoopMetricsCollector) RecordAcquireWait(time.Duration)       {}
func (NoopMetricsCollector) RecordStall(time.Duration)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	DocumentCount      atomic.Int64
	DocumentErrors     atomic.Int64
	DocumentTotalNanos atomic.Int64
	DeleteCalls        atomic.Int64
	DeleteItems        atomic.Int64
	DeleteErrors       atomic.Int64
	FlushCount         atomic.Int64
	FlushDocs          atomic.Int64
	FlushErrors        atomic.Int64
	FlushTotalNanos    atomic.Int64
	SegmentsPublished  atomic.Int64
	PacketsPublished   atomic.Int64
	PublishErrors      atomic.Int64
	PurgeCount         atomic.Int64
	PurgedTickets      atomic.Int64
	PurgeErrors        atomic.Int64
	CommitCount        atomic.Int64
	CommitErrors       atomic.Int64
	AcquireWaitNanos   atomic.Int64
	StallCount         atomic.Int64
	StallNanos         atomic.Int64
}

// RecordDocument implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDocument(duration time.Duration, err error) {
	b.DocumentCount.Add(1)
	b.DocumentTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.DocumentErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(count int, err error) {
	b.DeleteCalls.Add(1)
	b.DeleteItems.Add(int64(count))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(docs int, duration time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushDocs.Add(int64(docs))
}

// RecordPublish implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPublish(segment bool, err error) {
	switch {
	case err != nil:
		b.PublishErrors.Add(1)
	case segment:
		b.SegmentsPublished.Add(1)
	default:
		b.PacketsPublished.Add(1)
	}
}

// RecordPurge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPurge(published int, err error) {
	b.PurgeCount.Add(1)
	b.PurgedTickets.Add(int64(published))
	if err != nil {
		b.PurgeErrors.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(_ time.Duration, err error) {
	b.CommitCount.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordAcquireWait implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAcquireWait(duration time.Duration) {
	b.AcquireWaitNanos.Add(duration.Nanoseconds())
}

// RecordStall implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStall(duration time.Duration) {
	b.StallCount.Add(1)
	b.StallNanos.Add(duration.Nanoseconds())
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		DocumentCount:     b.DocumentCount.Load(),
		DocumentErrors:    b.DocumentErrors.Load(),
		DocumentAvgNanos:  avg(b.DocumentTotalNanos.Load(), b.DocumentCount.Load()),
		DeleteCalls:       b.DeleteCalls.Load(),
		DeleteItems:       b.DeleteItems.Load(),
		DeleteErrors:      b.DeleteErrors.Load(),
		FlushCount:        b.FlushCount.Load(),
		FlushDocs:         b.FlushDocs.Load(),
		FlushErrors:       b.FlushErrors.Load(),
		FlushAvgNanos:     avg(b.FlushTotalNanos.Load(), b.FlushCount.Load()),
		SegmentsPublished: b.SegmentsPublished.Load(),
		PacketsPublished:  b.PacketsPublished.Load(),
		PublishErrors:     b.PublishErrors.Load(),
		PurgeCount:        b.PurgeCount.Load(),
		PurgedTickets:     b.PurgedTickets.Load(),
		PurgeErrors:       b.PurgeErrors.Load(),
		CommitCount:       b.CommitCount.Load(),
		CommitErrors:      b.CommitErrors.Load(),
		AcquireWaitNanos:  b.AcquireWaitNanos.Load(),
		StallCount:        b.StallCount.Load(),
		StallNanos:        b.StallNanos.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	DocumentCount     int64
	DocumentErrors    int64
	DocumentAvgNanos  int64
	DeleteCalls       int64
	DeleteItems       int64
	DeleteErrors      int64
	FlushCount        int64
	FlushDocs         int64
	FlushErrors       int64
	FlushAvgNanos     int64
	SegmentsPublished int64
	PacketsPublished  int64
	PublishErrors     int64
	PurgeCount        int64
	PurgedTickets     int64
	PurgeErrors       int64
	CommitCount       int64
	CommitErrors      int64
	AcquireWaitNanos  int64
	StallCount        int64
	StallNanos        int64
}
