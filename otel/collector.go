// collector.go: OpenTelemetry MetricsCollector for Xanthos
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package otel

import (
	"context"
	"errors"
	"time"

	"github.com/agilira/xanthos"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsCollector implements xanthos.MetricsCollector using OpenTelemetry.
//
// Thread-safety: Safe for concurrent use by multiple goroutines.
// The underlying OTEL instruments are thread-safe and lock-free.
type OTelMetricsCollector struct {
	fetchLatency metric.Int64Histogram
	queueWait    metric.Int64Histogram
	fetches      metric.Int64Counter
	retries      metric.Int64Counter
	timeouts     metric.Int64Counter
	dedupShared  metric.Int64Counter
	evictions    metric.Int64Counter
	storageErrs  metric.Int64Counter

	hitAttrs  metric.MeasurementOption
	missAttrs metric.MeasurementOption
}

// Options for configuring OTelMetricsCollector.
type Options struct {
	// MeterName is the name of the OpenTelemetry meter.
	// Default: "github.com/agilira/xanthos"
	MeterName string
}

// Option is a functional option for configuring OTelMetricsCollector.
type Option func(*Options)

// WithMeterName sets a custom meter name, useful to tell several Facade
// instances apart.
func WithMeterName(name string) Option {
	return func(o *Options) {
		o.MeterName = name
	}
}

// NewOTelMetricsCollector creates the collector and its instruments.
//
// Returns an error if provider is nil or an instrument cannot be created.
//
// Example:
//
//	exporter, _ := prometheus.New()
//	provider := metric.NewMeterProvider(metric.WithReader(exporter))
//	collector, err := NewOTelMetricsCollector(provider)
func NewOTelMetricsCollector(provider metric.MeterProvider, opts ...Option) (*OTelMetricsCollector, error) {
	if provider == nil {
		return nil, errors.New("meter provider cannot be nil")
	}

	options := Options{MeterName: "github.com/agilira/xanthos"}
	for _, opt := range opts {
		opt(&options)
	}
	meter := provider.Meter(options.MeterName)

	c := &OTelMetricsCollector{
		hitAttrs:  metric.WithAttributes(attribute.String("result", "hit")),
		missAttrs: metric.WithAttributes(attribute.String("result", "miss")),
	}

	var err error
	if c.fetchLatency, err = meter.Int64Histogram(
		"xanthos_fetch_latency_ns",
		metric.WithDescription("Latency of Fetch calls in nanoseconds"),
		metric.WithUnit("ns"),
	); err != nil {
		return nil, err
	}
	if c.queueWait, err = meter.Int64Histogram(
		"xanthos_queue_wait_ns",
		metric.WithDescription("Time operations spent queued before admission, in nanoseconds"),
		metric.WithUnit("ns"),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&c.fetches, "xanthos_fetches_total", "Total number of Fetch calls by cache result"},
		{&c.retries, "xanthos_retries_total", "Total number of retried transient failures"},
		{&c.timeouts, "xanthos_timeouts_total", "Total number of attempts that hit the request timeout"},
		{&c.dedupShared, "xanthos_dedup_shared_total", "Total number of callers served by a shared in-flight call"},
		{&c.evictions, "xanthos_evictions_total", "Total number of volatile entries evicted for capacity"},
		{&c.storageErrs, "xanthos_storage_errors_total", "Total number of swallowed durable store failures"},
	}
	for _, ctr := range counters {
		if *ctr.dst, err = meter.Int64Counter(ctr.name, metric.WithDescription(ctr.desc)); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// RecordFetch records a Fetch with its latency and cache result.
func (c *OTelMetricsCollector) RecordFetch(latency time.Duration, hit bool) {
	ctx := context.Background()
	attrs := c.missAttrs
	if hit {
		attrs = c.hitAttrs
	}
	c.fetchLatency.Record(ctx, latency.Nanoseconds(), attrs)
	c.fetches.Add(ctx, 1, attrs)
}

// RecordQueueWait records the admission delay of an operation.
func (c *OTelMetricsCollector) RecordQueueWait(wait time.Duration) {
	c.queueWait.Record(context.Background(), wait.Nanoseconds())
}

// RecordRetry increments the retries counter.
func (c *OTelMetricsCollector) RecordRetry() {
	c.retries.Add(context.Background(), 1)
}

// RecordTimeout increments the timeouts counter.
func (c *OTelMetricsCollector) RecordTimeout() {
	c.timeouts.Add(context.Background(), 1)
}

// RecordDedupShared increments the shared-call counter.
func (c *OTelMetricsCollector) RecordDedupShared() {
	c.dedupShared.Add(context.Background(), 1)
}

// RecordEviction increments the evictions counter.
func (c *OTelMetricsCollector) RecordEviction() {
	c.evictions.Add(context.Background(), 1)
}

// RecordStorageError increments the storage errors counter.
func (c *OTelMetricsCollector) RecordStorageError() {
	c.storageErrs.Add(context.Background(), 1)
}

// Compile-time interface check
var _ xanthos.MetricsCollector = (*OTelMetricsCollector)(nil)
