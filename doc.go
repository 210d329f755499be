// Package xanthos sits between application code and a remote data backend.
//
// # Overview
//
// A Facade combines four parts:
//   - VolatileCache: bounded in-memory tier with per-entry TTL and
//     write-time eviction (reads never refresh an entry's position)
//   - DurableStore: optional persisted tier for allow-listed keys, stamped
//     with a schema version and kept under a byte budget
//   - Deduplicator: concurrent calls for the same key share one execution
//   - Scheduler: priority queue with a concurrency gate and a pause barrier
//
// # Quick Start
//
//	f, err := xanthos.New(xanthos.Config{
//	    MaxConcurrent:   5,
//	    PersistPatterns: []string{`^profile:`},
//	    Provider:        memstore.New(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close(context.Background())
//
//	v, err := f.Fetch(ctx, "profile:42", func(ctx context.Context) (interface{}, error) {
//	    return api.Profile(ctx, 42)
//	}, xanthos.WithTTL(time.Minute))
//
// # Priorities
//
// Lower numbers are served first; equal priorities are FIFO:
//
//	PriorityCritical (1)  user-critical actions, bypasses the pause barrier
//	PriorityHigh     (2)  Fetch default
//	PriorityMedium   (3)  FetchWithStale and Prefetch default
//	PriorityLow      (4)  background revalidation
//
// Scheduler.CancelByPriorityCeiling(p) drops every queued operation whose
// priority number is <= p. Dropped operations are rejected with an
// XANTHOS_CANCELLED error.
//
// # Critical Actions
//
// ExecuteCritical pauses the scheduler, runs the action at
// PriorityCritical without cache lookup or deduplication, invalidates the
// patterns given with WithInvalidate and resumes background work after
// Config.PauseGrace, leaving room for change notifications to land:
//
//	_, err := f.ExecuteCritical(ctx, "post:new", createPost,
//	    xanthos.WithInvalidate("thread:*", "re:^feed:"))
//
// # Stale-While-Revalidate
//
// FetchWithStale returns any cached value at once. If it is expired a
// PriorityLow refresh runs in the background and its outcome is ignored.
//
// # Invalidation
//
// Patterns accepted by InvalidateCache and WithInvalidate:
//
//	"thread:42"     exact key
//	"thread:*"      glob, resolved through the family index
//	"user:?:posts"  glob, scans live keys
//	"re:^feed:"     regular expression
//
// Entries also carry tags: their key family (the text before the first
// ':') and any given with WithTags. InvalidateTag removes them through an
// index.
//
// # Errors
//
// Errors are github.com/agilira/go-errors values with XANTHOS_* codes. A
// failed attempt is retried up to Config.MaxRetries times when IsTransient
// reports it: timeouts, errors marked retryable (NewErrTransient), network
// errors and messages carrying network or timeout markers. Anything else
// is returned at once. Durable tier failures are logged and never surface.
//
// # Packages
//
//   - store: the durable Provider contract and its errors
//   - store/memstore, store/localfs, store/sqlstore, store/valkey: providers
//   - compress: codecs applied to persisted entries
//   - otel: OpenTelemetry MetricsCollector
//   - cmd/xanthosd: HTTP daemon fronting a remote backend
package xanthos
