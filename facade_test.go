// facade_test.go: end-to-end tests for the data access facade
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agilira/xanthos/store/memstore"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{PersistPatterns: []string{"("}})
	if GetErrorCode(err) != ErrCodeInvalidConfig {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestFacade_FetchCachesResult(t *testing.T) {
	f := newTestFacade(t, nil)
	ctx := context.Background()

	var calls atomic.Int64
	op := func(context.Context) (interface{}, error) {
		calls.Add(1)
		return "profile", nil
	}

	for i := 0; i < 3; i++ {
		v, err := f.Fetch(ctx, "user:1", op)
		if err != nil || v != "profile" {
			t.Fatalf("Fetch %d: %v, %v", i, v, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("op should run once within TTL, ran %d times", calls.Load())
	}

	if _, err := f.Fetch(ctx, "user:1", op, SkipCache()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("SkipCache should re-run op, ran %d times", calls.Load())
	}
}

func TestFacade_FetchRejectsBadInput(t *testing.T) {
	f := newTestFacade(t, nil)
	ctx := context.Background()

	if _, err := f.Fetch(ctx, "", constOp(1)); !IsEmptyKey(err) {
		t.Errorf("expected empty key error, got %v", err)
	}
	if _, err := f.Fetch(ctx, "k", nil); GetErrorCode(err) != ErrCodeInvalidOperation {
		t.Errorf("expected invalid operation error, got %v", err)
	}
	if _, err := f.Fetch(ctx, "k", constOp(1), WithPriority(9)); GetErrorCode(err) != ErrCodeInvalidPriority {
		t.Errorf("expected invalid priority error, got %v", err)
	}
	if err := f.SetCache(ctx, "", 1, 0); !IsEmptyKey(err) {
		t.Errorf("SetCache: expected empty key error, got %v", err)
	}
}

// Two network failures followed by a success, with two retries allowed.
func TestFacade_RetriesTransientFailures(t *testing.T) {
	metrics := &countingMetrics{}
	f := newTestFacade(t, func(c *Config) {
		c.MaxRetries = 2
		c.MetricsCollector = metrics
	})

	var calls atomic.Int64
	op := func(context.Context) (interface{}, error) {
		if calls.Add(1) <= 2 {
			return nil, NewErrTransient(errors.New("network unreachable"))
		}
		return "ok", nil
	}

	v, err := f.Fetch(context.Background(), "k", op)
	if err != nil || v != "ok" {
		t.Fatalf("expected success, got %v, %v", v, err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected exactly 3 invocations, got %d", n)
	}
	if n := metrics.retries.Load(); n != 2 {
		t.Errorf("expected 2 retries recorded, got %d", n)
	}
}

func TestFacade_RetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int64
	}{
		{"transient exhausted", NewErrTransient(errors.New("reset")), 3},
		{"network marker", errors.New("network is down"), 3},
		{"domain error", errors.New("user not found"), 1},
		{"empty key", NewErrEmptyKey("remote"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFacade(t, func(c *Config) { c.MaxRetries = 2 })
			var calls atomic.Int64
			_, err := f.Fetch(context.Background(), "k", func(context.Context) (interface{}, error) {
				calls.Add(1)
				return nil, tt.err
			})
			if err == nil || err.Error() != tt.err.Error() {
				t.Errorf("expected last error %v, got %v", tt.err, err)
			}
			if n := calls.Load(); n != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, n)
			}
			if f.HasCache(context.Background(), "k") {
				t.Error("failures must not be cached")
			}
		})
	}
}

func TestFacade_AttemptTimeout(t *testing.T) {
	metrics := &countingMetrics{}
	f := newTestFacade(t, func(c *Config) {
		c.RequestTimeout = 20 * time.Millisecond
		c.MaxRetries = 1
		c.MetricsCollector = metrics
	})

	var calls atomic.Int64
	_, err := f.Fetch(context.Background(), "slow", func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("timeouts are transient: expected 2 calls, got %d", calls.Load())
	}
	if metrics.timeouts.Load() != 2 {
		t.Errorf("expected 2 timeouts recorded, got %d", metrics.timeouts.Load())
	}
}

func TestFacade_CallerCancellationNotTimeout(t *testing.T) {
	f := newTestFacade(t, func(c *Config) { c.MaxRetries = 3 })

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()
	_, err := f.Fetch(ctx, "k", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithDeduplicate(false))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFacade_Deduplicates(t *testing.T) {
	f := newTestFacade(t, nil)
	ctx := context.Background()

	var calls atomic.Int64
	release := make(chan struct{})
	op := func(context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return "same", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]interface{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.Fetch(ctx, "feed:home", op)
		}(i)
	}
	eventually(t, time.Second, func() bool { return calls.Load() == 1 }, "op started")
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected exactly one invocation, got %d", calls.Load())
	}
	for i, v := range results {
		if v != "same" {
			t.Errorf("caller %d got %v", i, v)
		}
	}
	if s := f.Stats(); s.PendingDedupCount != 0 {
		t.Errorf("expected no pending dedup keys, got %d", s.PendingDedupCount)
	}
}

func TestFacade_TTLExpiryWithoutPersistence(t *testing.T) {
	clock := newMockTime()
	f := newTestFacade(t, func(c *Config) {
		c.TimeProvider = clock
		c.Provider = memstore.New()
		c.PersistPatterns = []string{`^user:`}
	})
	ctx := context.Background()

	if err := f.SetCache(ctx, "k", "v1", time.Second); err != nil {
		t.Fatal(err)
	}
	clock.Advance(1500 * time.Millisecond)
	if _, ok := f.GetCache(ctx, "k"); ok {
		t.Error("expired key that is not allow-listed must be absent")
	}
}

func TestFacade_ExpiredKeyPromotedFromDurable(t *testing.T) {
	clock := newMockTime()
	f := newTestFacade(t, func(c *Config) {
		c.TimeProvider = clock
		c.Provider = memstore.New()
		c.PersistPatterns = []string{`^user:`}
	})
	ctx := context.Background()

	var calls atomic.Int64
	op := func(context.Context) (interface{}, error) {
		calls.Add(1)
		return map[string]int{"id": 1}, nil
	}
	if _, err := f.Fetch(ctx, "user:1", op, WithTTL(time.Second)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)

	if _, err := f.Fetch(ctx, "user:1", op); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("durable hit should avoid a second invocation, got %d", calls.Load())
	}
	if f.Stats().Cache.Promotions != 1 {
		t.Errorf("expected one promotion, got %+v", f.Stats().Cache)
	}
}

func TestFacade_FetchWithStale(t *testing.T) {
	clock := newMockTime()
	f := newTestFacade(t, func(c *Config) { c.TimeProvider = clock })
	ctx := context.Background()

	_ = f.SetCache(ctx, "post:1", "old", time.Second)
	clock.Advance(time.Minute)

	var staleSeen atomic.Value
	v, err := f.FetchWithStale(ctx, "post:1", func(context.Context) (interface{}, error) {
		return "new", nil
	}, WithOnStale(func(v interface{}) { staleSeen.Store(v) }), WithTTL(time.Hour))
	if err != nil || v != "old" {
		t.Fatalf("expected stale value, got %v, %v", v, err)
	}
	if staleSeen.Load() != "old" {
		t.Errorf("onStale not invoked with the cached value, got %v", staleSeen.Load())
	}

	eventually(t, time.Second, func() bool {
		v, ok := f.GetCache(ctx, "post:1")
		return ok && v == "new"
	}, "background refresh")
}

func TestFacade_FetchWithStaleFreshAndMiss(t *testing.T) {
	f := newTestFacade(t, nil)
	ctx := context.Background()

	var calls atomic.Int64
	op := func(context.Context) (interface{}, error) {
		calls.Add(1)
		return "fetched", nil
	}

	v, err := f.FetchWithStale(ctx, "post:1", op)
	if err != nil || v != "fetched" {
		t.Fatalf("miss should fetch, got %v, %v", v, err)
	}

	var staleCalls atomic.Int64
	v, err = f.FetchWithStale(ctx, "post:1", op, WithOnStale(func(interface{}) { staleCalls.Add(1) }))
	if err != nil || v != "fetched" {
		t.Fatalf("fresh hit: %v, %v", v, err)
	}
	if staleCalls.Load() != 1 {
		t.Error("onStale should fire for any cached value")
	}
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("fresh value must not trigger a refresh, got %d calls", calls.Load())
	}
}

// A MEDIUM fetch queued during a critical action waits for the grace
// resume; invalidation lands as soon as the action succeeds.
func TestFacade_ExecuteCritical(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newTestFacade(t, func(c *Config) {
		c.Clock = clock
		c.PauseGrace = 500 * time.Millisecond
		c.MaxConcurrent = 2
	})
	ctx := context.Background()

	for _, k := range []string{"a:1", "a:2", "b:1"} {
		_ = f.SetCache(ctx, k, k, NoExpiration)
	}

	critRelease := make(chan struct{})
	critDone := make(chan error, 1)
	go func() {
		_, err := f.ExecuteCritical(ctx, "order:1", func(context.Context) (interface{}, error) {
			<-critRelease
			return "placed", nil
		}, WithInvalidate("a:*"))
		critDone <- err
	}()
	eventually(t, time.Second, func() bool { return f.Scheduler().Running() == 1 }, "critical running")
	if !f.Scheduler().IsPaused() {
		t.Fatal("scheduler should be paused during a critical action")
	}

	var mediumStarted atomic.Bool
	mediumDone := make(chan struct{})
	go func() {
		defer close(mediumDone)
		_, _ = f.Fetch(ctx, "feed:1", func(context.Context) (interface{}, error) {
			mediumStarted.Store(true)
			return "feed", nil
		}, WithPriority(PriorityMedium))
	}()
	eventually(t, time.Second, func() bool { return f.Scheduler().QueueDepth() == 1 }, "medium queued")

	close(critRelease)
	if err := <-critDone; err != nil {
		t.Fatalf("ExecuteCritical failed: %v", err)
	}
	for _, k := range []string{"a:1", "a:2"} {
		if f.HasCache(ctx, k) {
			t.Errorf("%s should be invalidated", k)
		}
	}
	if !f.HasCache(ctx, "b:1") {
		t.Error("b:1 should survive")
	}
	if v, ok := f.GetCache(ctx, "order:1"); !ok || v != "placed" {
		t.Errorf("critical result should be cached, got %v", v)
	}

	time.Sleep(30 * time.Millisecond)
	if mediumStarted.Load() {
		t.Fatal("medium fetch started before the grace period")
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case <-mediumDone:
	case <-time.After(time.Second):
		t.Fatal("medium fetch did not run after resume")
	}
	if !mediumStarted.Load() || f.Scheduler().IsPaused() {
		t.Error("scheduler should have resumed")
	}
}

func TestFacade_ExecuteCriticalFailureSkipsInvalidation(t *testing.T) {
	f := newTestFacade(t, func(c *Config) { c.MaxRetries = 0 })
	ctx := context.Background()
	_ = f.SetCache(ctx, "a:1", 1, 0)

	_, err := f.ExecuteCritical(ctx, "order:1", func(context.Context) (interface{}, error) {
		return nil, errors.New("payment declined")
	}, WithInvalidate("a:*"))
	if err == nil {
		t.Fatal("expected failure")
	}
	if !f.HasCache(ctx, "a:1") {
		t.Error("failed action must not invalidate")
	}

	var called atomic.Bool
	_, err = f.ExecuteCritical(ctx, "order:2", func(context.Context) (interface{}, error) {
		called.Store(true)
		return nil, nil
	}, WithInvalidate("re:("))
	if GetErrorCode(err) != ErrCodeInvalidPattern || called.Load() {
		t.Errorf("bad pattern must fail before running op, got %v", err)
	}

	eventually(t, time.Second, func() bool { return !f.Scheduler().IsPaused() }, "resume after grace")
}

func TestFacade_Prefetch(t *testing.T) {
	f := newTestFacade(t, nil)
	ctx := context.Background()

	f.Prefetch("user:7", constOp("seven"))
	eventually(t, time.Second, func() bool { return f.HasCache(ctx, "user:7") }, "prefetched")

	var called atomic.Bool
	f.Prefetch("user:7", func(context.Context) (interface{}, error) {
		called.Store(true)
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)
	if called.Load() {
		t.Error("prefetch of a cached key must not fetch")
	}

	// Failures are swallowed.
	f.Prefetch("user:8", func(context.Context) (interface{}, error) {
		return nil, errors.New("not found")
	})
	f.Prefetch("", constOp(1))
}

func TestFacade_Invalidation(t *testing.T) {
	f := newTestFacade(t, nil)
	ctx := context.Background()

	_ = f.SetCache(ctx, "user:1", 1, 0, "staff")
	_ = f.SetCache(ctx, "user:2", 2, 0)
	_ = f.SetCache(ctx, "post:1", 3, 0, "staff")

	if err := f.InvalidateCache(ctx, "user:2"); err != nil {
		t.Fatal(err)
	}
	if n := f.InvalidateTag(ctx, "staff"); n != 2 {
		t.Errorf("expected 2 removed by tag, got %d", n)
	}
	if err := f.InvalidateCache(ctx, "re:["); GetErrorCode(err) != ErrCodeInvalidPattern {
		t.Errorf("expected invalid pattern error, got %v", err)
	}

	_ = f.SetCache(ctx, "x", 1, 0)
	f.ClearCache(ctx)
	if f.Stats().CacheSize != 0 {
		t.Error("ClearCache left entries behind")
	}
}

func TestFacade_UpdateRuntime(t *testing.T) {
	f := newTestFacade(t, func(c *Config) { c.MaxCacheSize = 10 })
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c", "d"} {
		_ = f.SetCache(ctx, k, k, 0)
	}

	f.UpdateRuntime(RuntimeConfig{MaxRetries: 5, DefaultTTL: time.Hour, MaxCacheSize: 2})
	rc := f.Runtime()
	if rc.MaxRetries != 5 || rc.DefaultTTL != time.Hour || rc.MaxCacheSize != 2 {
		t.Errorf("unexpected runtime %+v", rc)
	}
	if rc.RequestTimeout != time.Second || rc.PauseGrace != 10*time.Millisecond {
		t.Errorf("zero values must keep current settings, got %+v", rc)
	}
	if f.Cache().DefaultTTL() != time.Hour {
		t.Error("default TTL not propagated")
	}
	if s := f.Stats(); s.CacheSize != 2 || s.MaxCacheSize != 2 {
		t.Errorf("expected cache resized to 2, got %d/%d", s.CacheSize, s.MaxCacheSize)
	}
}

func TestFacade_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	f := newTestFacade(t, func(c *Config) {
		c.Tracer = tp.Tracer("test")
		c.MaxRetries = 0
	})
	ctx := context.Background()

	_, _ = f.Fetch(ctx, "ok", constOp(1))
	_, _ = f.Fetch(ctx, "bad", func(context.Context) (interface{}, error) {
		return nil, errors.New("rejected")
	})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "xanthos.execute" {
			t.Errorf("unexpected span name %q", s.Name())
		}
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("successful execution marked as error")
	}
	if spans[1].Status().Code != codes.Error {
		t.Error("failed execution not marked as error")
	}
}

func TestFacade_Close(t *testing.T) {
	f, err := New(testConfig(t, func(c *Config) {
		c.Provider = memstore.New()
		c.PersistPatterns = []string{`.*`}
	}))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// Leave a grace timer pending.
	if _, err := f.ExecuteCritical(ctx, "k", constOp(1)); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if f.Scheduler().IsPaused() {
		t.Error("Close must release pending pauses")
	}
	if err := f.Close(ctx); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	if _, err := f.Fetch(ctx, "k", constOp(1)); !IsClosed(err) {
		t.Errorf("Fetch after Close: expected closed error, got %v", err)
	}
	if _, err := f.ExecuteCritical(ctx, "k", constOp(1)); !IsClosed(err) {
		t.Errorf("ExecuteCritical after Close: expected closed error, got %v", err)
	}
	f.Prefetch("k", constOp(1))
}

func TestFacade_Stats(t *testing.T) {
	f := newTestFacade(t, func(c *Config) { c.MaxCacheSize = 50 })
	ctx := context.Background()

	_, _ = f.Fetch(ctx, "k", constOp(1))
	_, _ = f.Fetch(ctx, "k", constOp(1))

	s := f.Stats()
	if s.CacheSize != 1 || s.MaxCacheSize != 50 {
		t.Errorf("unexpected size %d/%d", s.CacheSize, s.MaxCacheSize)
	}
	if s.Cache.Hits != 1 || s.Cache.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %+v", s.Cache)
	}
	if s.Cache.HitRatio() != 50 {
		t.Errorf("expected 50%% hit ratio, got %v", s.Cache.HitRatio())
	}
	if s.IsPaused || s.QueueDepth != 0 || s.Running != 0 {
		t.Errorf("unexpected scheduler state %+v", s)
	}
}
