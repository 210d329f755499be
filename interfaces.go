// interfaces.go: public interfaces and shared types for Xanthos
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"context"
	"time"
)

// Operation produces the value for a cache key. It is opaque to Xanthos:
// typically a request to the remote backend. The context carries the
// per-attempt deadline and must be honoured by long-running work.
type Operation func(ctx context.Context) (interface{}, error)

// Priority orders queued operations. A lower number is more urgent.
type Priority int

const (
	// PriorityCritical is reserved for user-critical actions. It bypasses
	// the pause barrier.
	PriorityCritical Priority = 1

	// PriorityHigh is the default for Fetch.
	PriorityHigh Priority = 2

	// PriorityMedium is the default for FetchWithStale and Prefetch.
	PriorityMedium Priority = 3

	// PriorityLow is used for background revalidation.
	PriorityLow Priority = 4
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the four defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// ParsePriority converts a name ("critical", "high", "medium", "low") to a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "critical":
		return PriorityCritical, true
	case "high":
		return PriorityHigh, true
	case "medium":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	}
	return 0, false
}

// Logger defines a minimal logging interface with zero overhead.
// Implementations should use structured logging and be allocation-free.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keyvals ...interface{})

	// Info logs an info message with optional key-value pairs.
	Info(msg string, keyvals ...interface{})

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keyvals ...interface{})

	// Error logs an error message with optional key-value pairs.
	Error(msg string, keyvals ...interface{})
}

// NoOpLogger is a logger that does nothing. Used as default to avoid nil checks.
type NoOpLogger struct{}

// Debug does nothing (no-op implementation).
func (NoOpLogger) Debug(msg string, keyvals ...interface{}) {}

// Info does nothing (no-op implementation).
func (NoOpLogger) Info(msg string, keyvals ...interface{}) {}

// Warn does nothing (no-op implementation).
func (NoOpLogger) Warn(msg string, keyvals ...interface{}) {}

// Error does nothing (no-op implementation).
func (NoOpLogger) Error(msg string, keyvals ...interface{}) {}

// TimeProvider provides the current time used to stamp cache entries.
type TimeProvider interface {
	// Now returns the current time in nanoseconds since epoch.
	Now() int64
}

// MetricsCollector receives data access events.
// All methods must be safe for concurrent use and fast.
type MetricsCollector interface {
	// RecordFetch records a completed Fetch with its latency and whether
	// it was served from cache.
	RecordFetch(latency time.Duration, hit bool)

	// RecordQueueWait records how long an operation waited for admission.
	RecordQueueWait(wait time.Duration)

	// RecordRetry records one retry of a transient failure.
	RecordRetry()

	// RecordTimeout records an attempt that exceeded the request timeout.
	RecordTimeout()

	// RecordDedupShared records a caller that joined an in-flight operation.
	RecordDedupShared()

	// RecordEviction records a volatile entry evicted for capacity.
	RecordEviction()

	// RecordStorageError records a swallowed durable store failure.
	RecordStorageError()
}

// NoOpMetricsCollector is a metrics collector that does nothing.
type NoOpMetricsCollector struct{}

// RecordFetch does nothing.
func (NoOpMetricsCollector) RecordFetch(time.Duration, bool) {}

// RecordQueueWait does nothing.
func (NoOpMetricsCollector) RecordQueueWait(time.Duration) {}

// RecordRetry does nothing.
func (NoOpMetricsCollector) RecordRetry() {}

// RecordTimeout does nothing.
func (NoOpMetricsCollector) RecordTimeout() {}

// RecordDedupShared does nothing.
func (NoOpMetricsCollector) RecordDedupShared() {}

// RecordEviction does nothing.
func (NoOpMetricsCollector) RecordEviction() {}

// RecordStorageError does nothing.
func (NoOpMetricsCollector) RecordStorageError() {}

// CacheStats provides statistics about the volatile tier.
type CacheStats struct {
	// Hits is the number of valid reads served from memory or promoted from disk
	Hits uint64

	// Misses is the number of reads that found nothing valid
	Misses uint64

	// Promotions is the number of entries re-seeded from the durable tier
	Promotions uint64

	// Evictions is the number of entries dropped for capacity
	Evictions uint64

	// Size is the current number of entries
	Size int

	// Capacity is the maximum number of entries
	Capacity int
}

// HitRatio returns the cache hit ratio as a percentage (0-100).
// Returns 0.0 if no reads have been performed yet.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Stats is a diagnostic snapshot of a Facade. It is not meant for control flow.
type Stats struct {
	CacheSize         int
	MaxCacheSize      int
	QueueDepth        int
	Running           int
	PendingDedupCount int
	IsProcessing      bool
	IsPaused          bool
	Cache             CacheStats
}
