// facade.go: the data access facade
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RuntimeConfig holds the knobs that can change on a live Facade.
type RuntimeConfig struct {
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	PrefetchDelay  time.Duration
	PauseGrace     time.Duration
	DefaultTTL     time.Duration
	MaxCacheSize   int
}

// Facade is the entry point of the data access layer. It combines the
// volatile and durable cache tiers, request deduplication and the priority
// scheduler. Create one with New and release it with Close.
type Facade struct {
	volatile  *VolatileCache
	durable   *DurableStore
	dedup     *Deduplicator
	scheduler *Scheduler

	runtime atomic.Pointer[RuntimeConfig]

	clock   clockwork.Clock
	logger  Logger
	metrics MetricsCollector
	tracer  trace.Tracer

	// Background work: stale refreshes, prefetches and pending resumes.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
	bgMu     sync.Mutex
	resumes  map[clockwork.Timer]struct{}
	closed   atomic.Bool
	closeErr error
	once     sync.Once
}

// New validates cfg and builds a Facade. When cfg.Provider is nil the
// Facade caches in memory only.
func New(cfg Config) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var durable *DurableStore
	if cfg.Provider != nil {
		durable = NewDurableStore(cfg.Provider, cfg)
	}

	f := &Facade{
		durable:   durable,
		volatile:  NewVolatileCache(cfg, durable),
		dedup:     NewDeduplicator(cfg.MetricsCollector),
		scheduler: NewScheduler(cfg),
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.MetricsCollector,
		tracer:    cfg.Tracer,
		resumes:   make(map[clockwork.Timer]struct{}),
	}
	f.runtime.Store(&RuntimeConfig{
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		PrefetchDelay:  cfg.PrefetchDelay,
		PauseGrace:     cfg.PauseGrace,
		DefaultTTL:     cfg.DefaultTTL,
		MaxCacheSize:   cfg.MaxCacheSize,
	})
	f.bgCtx, f.bgCancel = context.WithCancel(context.Background())
	return f, nil
}

// Runtime returns the current runtime knobs.
func (f *Facade) Runtime() RuntimeConfig {
	return *f.runtime.Load()
}

// UpdateRuntime replaces the runtime knobs. Non-positive durations and a
// non-positive MaxCacheSize keep their current value; a negative
// MaxRetries is clamped to zero. Shrinking MaxCacheSize evicts the
// oldest-written entries.
func (f *Facade) UpdateRuntime(rc RuntimeConfig) {
	cur := f.Runtime()
	if rc.RequestTimeout <= 0 {
		rc.RequestTimeout = cur.RequestTimeout
	}
	if rc.MaxRetries < 0 {
		rc.MaxRetries = 0
	}
	if rc.RetryDelay <= 0 {
		rc.RetryDelay = cur.RetryDelay
	}
	if rc.PrefetchDelay <= 0 {
		rc.PrefetchDelay = cur.PrefetchDelay
	}
	if rc.PauseGrace <= 0 {
		rc.PauseGrace = cur.PauseGrace
	}
	if rc.DefaultTTL <= 0 {
		rc.DefaultTTL = cur.DefaultTTL
	}
	if rc.MaxCacheSize <= 0 {
		rc.MaxCacheSize = cur.MaxCacheSize
	}

	f.volatile.SetDefaultTTL(rc.DefaultTTL)
	if rc.MaxCacheSize != cur.MaxCacheSize {
		f.volatile.Resize(rc.MaxCacheSize)
	}
	f.runtime.Store(&rc)
	f.logger.Info("runtime configuration updated",
		"request_timeout", rc.RequestTimeout,
		"max_retries", rc.MaxRetries,
		"default_ttl", rc.DefaultTTL,
		"max_cache_size", rc.MaxCacheSize)
}

func (f *Facade) checkCall(op string, key string, fn Operation) error {
	if f.closed.Load() {
		return NewErrClosed(op)
	}
	if key == "" {
		return NewErrEmptyKey(op)
	}
	if fn == nil {
		return NewErrInvalidOperation(key)
	}
	return nil
}

// Fetch returns the value for key, running op through the scheduler on a
// cache miss.
//
// Steps:
//  1. Unless SkipCache is given, the cache is consulted (memory, then the
//     durable tier for allow-listed keys) and a hit is returned at once.
//  2. Concurrent misses for the same key share one execution unless
//     WithDeduplicate(false) is given.
//  3. op is queued at the requested priority (default PriorityHigh), run
//     under the request timeout and retried on transient failures.
//  4. On success the value is written through both cache tiers.
//
// Returns the value or the last classified error.
//
// Example:
//
//	v, err := f.Fetch(ctx, "user:42", func(ctx context.Context) (interface{}, error) {
//	    return api.GetUser(ctx, 42)
//	}, xanthos.WithTTL(time.Minute))
func (f *Facade) Fetch(ctx context.Context, key string, op Operation, opts ...Option) (interface{}, error) {
	if err := f.checkCall("Fetch", key, op); err != nil {
		return nil, err
	}
	o := buildOptions(PriorityHigh, opts)
	if !o.priority.Valid() {
		return nil, NewErrInvalidPriority(o.priority)
	}
	return f.fetch(ctx, key, op, o)
}

func (f *Facade) fetch(ctx context.Context, key string, op Operation, o callOptions) (interface{}, error) {
	start := f.clock.Now()

	if !o.skipCache {
		if v, ok := f.volatile.Get(ctx, key); ok {
			f.metrics.RecordFetch(f.clock.Since(start), true)
			return v, nil
		}
	}

	exec := func(ctx context.Context) (interface{}, error) {
		return f.scheduler.Do(ctx, o.priority, f.executor(key, op, o))
	}

	var v interface{}
	var err error
	if o.deduplicate {
		v, _, err = f.dedup.Do(ctx, key, exec)
	} else {
		v, err = exec(ctx)
	}
	f.metrics.RecordFetch(f.clock.Since(start), false)
	return v, err
}

// executor wraps op with the timeout, retry policy, tracing and
// write-through. It is what the scheduler runs.
func (f *Facade) executor(key string, op Operation, o callOptions) Operation {
	return func(ctx context.Context) (interface{}, error) {
		rc := f.runtime.Load()
		ctx, span := f.tracer.Start(ctx, "xanthos.execute", trace.WithAttributes(
			attribute.String("xanthos.key", key),
			attribute.String("xanthos.priority", o.priority.String()),
		))
		defer span.End()

		for attempt := 0; ; attempt++ {
			v, err := f.attempt(ctx, key, op, rc.RequestTimeout)
			if err == nil {
				span.SetAttributes(attribute.Int("xanthos.attempts", attempt+1))
				f.volatile.Set(ctx, key, v, o.ttl, o.tags...)
				return v, nil
			}

			if attempt >= rc.MaxRetries || !IsTransient(err) || ctx.Err() != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			f.metrics.RecordRetry()
			f.logger.Debug("retrying transient failure", "key", key, "attempt", attempt+1, "error", err)
			select {
			case <-f.clock.After(rc.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

type attemptResult struct {
	val interface{}
	err error
}

// attempt runs op once against a deadline. A late result is discarded.
func (f *Facade) attempt(ctx context.Context, key string, op Operation, timeout time.Duration) (interface{}, error) {
	actx, cancel := clockwork.WithTimeout(ctx, f.clock, timeout)
	defer cancel()

	ch := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- attemptResult{err: NewErrPanicRecovered(key, r)}
			}
		}()
		v, err := op(actx)
		ch <- attemptResult{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.metrics.RecordTimeout()
		f.logger.Warn("operation timed out", "key", key, "timeout", timeout)
		return nil, NewErrTimeout(key, timeout)
	}
}

// FetchWithStale serves any cached value at once, expired or not, and
// invokes the WithOnStale callback with it. When the value is expired a
// PriorityLow refresh runs in the background and its outcome is ignored.
// With nothing cached it behaves like Fetch at the given priority
// (default PriorityMedium).
func (f *Facade) FetchWithStale(ctx context.Context, key string, op Operation, opts ...Option) (interface{}, error) {
	if err := f.checkCall("FetchWithStale", key, op); err != nil {
		return nil, err
	}
	o := buildOptions(PriorityMedium, opts)
	if !o.priority.Valid() {
		return nil, NewErrInvalidPriority(o.priority)
	}

	v, found, expired := f.volatile.GetStale(ctx, key)
	if !found {
		return f.fetch(ctx, key, op, o)
	}
	if o.onStale != nil {
		o.onStale(v)
	}
	if expired {
		refresh := o
		refresh.priority = PriorityLow
		refresh.skipCache = true
		f.spawn(func(ctx context.Context) {
			if _, err := f.fetch(ctx, key, op, refresh); err != nil {
				f.logger.Debug("background refresh failed", "key", key, "error", err)
			}
		})
	}
	return v, nil
}

// ExecuteCritical runs a user-critical action. The scheduler is paused so
// that no background work starts; op runs at PriorityCritical, bypassing
// the cache lookup and deduplication, and its result is written through.
// On success every pattern given with WithInvalidate is invalidated before
// returning. The scheduler resumes after the configured pause grace, so
// that change notifications caused by the action can land first.
//
// Transient failures are retried like any other call.
func (f *Facade) ExecuteCritical(ctx context.Context, key string, op Operation, opts ...Option) (interface{}, error) {
	if err := f.checkCall("ExecuteCritical", key, op); err != nil {
		return nil, err
	}
	o := buildOptions(PriorityCritical, opts)
	o.priority = PriorityCritical
	o.skipCache = true
	o.deduplicate = false

	patterns := make([]*Pattern, 0, len(o.invalidate))
	for _, raw := range o.invalidate {
		p, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	f.scheduler.Pause()
	defer f.resumeAfterGrace()

	v, err := f.fetch(ctx, key, op, o)
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		n := f.volatile.invalidateCompiled(ctx, p)
		f.logger.Debug("invalidated after critical action", "key", key, "pattern", p.String(), "removed", n)
	}
	return v, nil
}

func (f *Facade) resumeAfterGrace() {
	f.bgMu.Lock()
	defer f.bgMu.Unlock()
	if f.closed.Load() {
		f.scheduler.Resume()
		return
	}

	var timer clockwork.Timer
	fired := make(chan struct{})
	timer = f.clock.AfterFunc(f.runtime.Load().PauseGrace, func() {
		<-fired
		f.bgMu.Lock()
		_, pending := f.resumes[timer]
		delete(f.resumes, timer)
		f.bgMu.Unlock()
		if pending {
			f.scheduler.Resume()
		}
	})
	f.resumes[timer] = struct{}{}
	close(fired)
}

// Prefetch warms key in the background: if it is not cached, op is fetched
// at PriorityMedium after the prefetch delay. Failures are discarded.
func (f *Facade) Prefetch(key string, op Operation, opts ...Option) {
	if err := f.checkCall("Prefetch", key, op); err != nil {
		f.logger.Debug("prefetch rejected", "key", key, "error", err)
		return
	}
	o := buildOptions(PriorityMedium, opts)
	if !o.priority.Valid() {
		o.priority = PriorityMedium
	}

	f.spawn(func(ctx context.Context) {
		if f.volatile.Has(ctx, key) {
			return
		}
		select {
		case <-f.clock.After(f.runtime.Load().PrefetchDelay):
		case <-ctx.Done():
			return
		}
		if _, err := f.fetch(ctx, key, op, o); err != nil {
			f.logger.Debug("prefetch failed", "key", key, "error", err)
		}
	})
}

// spawn runs fn as tracked background work. It is a no-op after Close.
func (f *Facade) spawn(fn func(ctx context.Context)) {
	f.bgMu.Lock()
	defer f.bgMu.Unlock()
	if f.closed.Load() {
		return
	}
	f.bg.Add(1)
	go func() {
		defer f.bg.Done()
		fn(f.bgCtx)
	}()
}

// InvalidateCache removes the entries selected by pattern (see
// CompilePattern) from both tiers.
func (f *Facade) InvalidateCache(ctx context.Context, pattern string) error {
	n, err := f.volatile.InvalidatePattern(ctx, pattern)
	if err != nil {
		return err
	}
	f.logger.Debug("cache invalidated", "pattern", pattern, "removed", n)
	return nil
}

// InvalidateTag removes every entry carrying tag from both tiers.
func (f *Facade) InvalidateTag(ctx context.Context, tag string) int {
	return f.volatile.InvalidateTag(ctx, tag)
}

// ClearCache drops both cache tiers.
func (f *Facade) ClearCache(ctx context.Context) {
	f.volatile.Clear(ctx)
}

// GetCache reads key from the cache without fetching.
func (f *Facade) GetCache(ctx context.Context, key string) (interface{}, bool) {
	return f.volatile.Get(ctx, key)
}

// SetCache writes value for key. ttl 0 selects the default TTL.
func (f *Facade) SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	if key == "" {
		return NewErrEmptyKey("SetCache")
	}
	f.volatile.Set(ctx, key, value, ttl, tags...)
	return nil
}

// HasCache reports whether a valid value is cached for key.
func (f *Facade) HasCache(ctx context.Context, key string) bool {
	return f.volatile.Has(ctx, key)
}

// Scheduler exposes the scheduler for bulk cancellation and pausing.
func (f *Facade) Scheduler() *Scheduler {
	return f.scheduler
}

// Cache exposes the volatile tier.
func (f *Facade) Cache() *VolatileCache {
	return f.volatile
}

// Stats returns a diagnostic snapshot.
func (f *Facade) Stats() Stats {
	cs := f.volatile.Stats()
	return Stats{
		CacheSize:         cs.Size,
		MaxCacheSize:      cs.Capacity,
		QueueDepth:        f.scheduler.QueueDepth(),
		Running:           f.scheduler.Running(),
		PendingDedupCount: f.dedup.PendingCount(),
		IsProcessing:      f.scheduler.IsProcessing(),
		IsPaused:          f.scheduler.IsPaused(),
		Cache:             cs,
	}
}

// Close stops background work, releases pending pauses, rejects queued
// operations, waits for running ones until ctx ends and closes the durable
// provider. Calling Close more than once returns the first result.
func (f *Facade) Close(ctx context.Context) error {
	f.once.Do(func() {
		f.bgMu.Lock()
		f.closed.Store(true)
		pending := make([]clockwork.Timer, 0, len(f.resumes))
		for t := range f.resumes {
			pending = append(pending, t)
		}
		f.resumes = make(map[clockwork.Timer]struct{})
		f.bgMu.Unlock()

		for _, t := range pending {
			t.Stop()
			f.scheduler.Resume()
		}
		f.bgCancel()

		err := f.scheduler.Close(ctx)

		done := make(chan struct{})
		go func() {
			f.bg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}

		if f.durable != nil {
			if cerr := f.durable.Close(); cerr != nil && err == nil {
				err = NewErrStorageFailed("close", "", cerr)
			}
		}
		f.closeErr = err
		f.logger.Info("xanthos closed")
	})
	return f.closeErr
}
