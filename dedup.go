// dedup.go: in-flight request deduplication
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Deduplicator collapses concurrent calls for the same key into a single
// execution. Every waiter observes the same value or the same error.
// Retries are not its concern.
type Deduplicator struct {
	group   singleflight.Group
	metrics MetricsCollector

	mu      sync.Mutex
	pending map[string]int
}

// NewDeduplicator creates a Deduplicator. metrics may be nil.
func NewDeduplicator(metrics MetricsCollector) *Deduplicator {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &Deduplicator{
		metrics: metrics,
		pending: make(map[string]int),
	}
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call's result. fn runs detached from the caller's
// cancellation so one waiter leaving does not fail the others; a caller
// whose ctx ends stops waiting and gets ctx.Err().
func (d *Deduplicator) Do(ctx context.Context, key string, fn Operation) (v interface{}, shared bool, err error) {
	d.track(key, 1)
	defer d.track(key, -1)

	detached := context.WithoutCancel(ctx)
	ch := d.group.DoChan(key, func() (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = NewErrPanicRecovered("dedup:"+key, r)
			}
		}()
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Shared {
			d.metrics.RecordDedupShared()
		}
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (d *Deduplicator) track(key string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.pending[key] + delta
	if n <= 0 {
		delete(d.pending, key)
		return
	}
	d.pending[key] = n
}

// PendingCount returns the number of keys with a call in flight.
func (d *Deduplicator) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Forget makes the next call for key start a new execution even if one
// is still in flight.
func (d *Deduplicator) Forget(key string) {
	d.group.Forget(key)
}
