// helpers_test.go: shared test doubles
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
)

// mockTimeProvider is a manually advanced clock for TTL tests.
type mockTimeProvider struct {
	now atomic.Int64
}

func newMockTime() *mockTimeProvider {
	m := &mockTimeProvider{}
	m.now.Store(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return m
}

func (m *mockTimeProvider) Now() int64 {
	return m.now.Load()
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.now.Add(int64(d))
}

// countingMetrics records the events the tests assert on.
type countingMetrics struct {
	NoOpMetricsCollector
	retries     atomic.Int64
	timeouts    atomic.Int64
	shared      atomic.Int64
	evictions   atomic.Int64
	storageErrs atomic.Int64
}

func (m *countingMetrics) RecordRetry()        { m.retries.Add(1) }
func (m *countingMetrics) RecordTimeout()      { m.timeouts.Add(1) }
func (m *countingMetrics) RecordDedupShared()  { m.shared.Add(1) }
func (m *countingMetrics) RecordEviction()     { m.evictions.Add(1) }
func (m *countingMetrics) RecordStorageError() { m.storageErrs.Add(1) }

// failingProvider fails every call.
type failingProvider struct{}

var errProviderDown = errors.New("provider down")

func (failingProvider) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errProviderDown
}
func (failingProvider) Set(context.Context, string, []byte) error { return errProviderDown }
func (failingProvider) Delete(context.Context, string) error      { return errProviderDown }
func (failingProvider) Scan(context.Context, string, func(string, []byte) error) error {
	return errProviderDown
}
func (failingProvider) Close() error { return nil }

// testConfig returns a validated config with fast retries.
func testConfig(t *testing.T, mutate func(*Config)) Config {
	t.Helper()
	cfg := Config{
		MaxRetries:     DefaultMaxRetries,
		RetryDelay:     time.Millisecond,
		PrefetchDelay:  time.Millisecond,
		PauseGrace:     10 * time.Millisecond,
		RequestTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return cfg
}

func newTestFacade(t *testing.T, mutate func(*Config)) *Facade {
	t.Helper()
	f, err := New(testConfig(t, mutate))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.Close(ctx)
	})
	return f
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// recorder keeps the order in which operations started.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func constOp(v interface{}) Operation {
	return func(context.Context) (interface{}, error) { return v, nil }
}
