// Package otel provides OpenTelemetry integration for Xanthos metrics.
//
// OTelMetricsCollector implements xanthos.MetricsCollector with OTEL
// instruments, so any OTEL exporter (Prometheus, OTLP, ...) can publish
// the data access layer's behavior.
//
// # Usage
//
//	import (
//	    "github.com/agilira/xanthos"
//	    xanthosotel "github.com/agilira/xanthos/otel"
//	    "go.opentelemetry.io/otel/exporters/prometheus"
//	    "go.opentelemetry.io/otel/sdk/metric"
//	)
//
//	exporter, _ := prometheus.New()
//	provider := metric.NewMeterProvider(metric.WithReader(exporter))
//	collector, _ := xanthosotel.NewOTelMetricsCollector(provider)
//
//	facade, _ := xanthos.New(xanthos.Config{MetricsCollector: collector})
//
// # Metrics Exposed
//
// Histograms:
//   - xanthos_fetch_latency_ns: Fetch latency, attribute result=hit|miss
//   - xanthos_queue_wait_ns: time spent queued before admission
//
// Counters:
//   - xanthos_fetches_total: Fetch calls, attribute result=hit|miss
//   - xanthos_retries_total: retried transient failures
//   - xanthos_timeouts_total: attempts that hit the request timeout
//   - xanthos_dedup_shared_total: callers served by a shared call
//   - xanthos_evictions_total: volatile entries evicted for capacity
//   - xanthos_storage_errors_total: swallowed durable store failures
//
// # Prometheus Queries
//
// Hit ratio:
//
//	sum(rate(xanthos_fetches_total{result="hit"}[5m])) / sum(rate(xanthos_fetches_total[5m]))
//
// P95 queue wait:
//
//	histogram_quantile(0.95, rate(xanthos_queue_wait_ns_bucket[5m]))
package otel
