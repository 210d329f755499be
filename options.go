// options.go: per-call options for Facade operations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import "time"

type callOptions struct {
	priority    Priority
	ttl         time.Duration
	tags        []string
	skipCache   bool
	deduplicate bool
	onStale     func(value interface{})
	invalidate  []string
}

// Option configures a single Fetch, FetchWithStale, ExecuteCritical or
// Prefetch call. Options that do not apply to a call are ignored.
type Option func(*callOptions)

// WithPriority sets the scheduling priority.
func WithPriority(p Priority) Option {
	return func(o *callOptions) { o.priority = p }
}

// WithTTL sets the TTL of the cached result. NoExpiration keeps it until
// evicted or invalidated.
func WithTTL(ttl time.Duration) Option {
	return func(o *callOptions) { o.ttl = ttl }
}

// WithTags attaches invalidation tags to the cached result.
func WithTags(tags ...string) Option {
	return func(o *callOptions) { o.tags = append(o.tags, tags...) }
}

// SkipCache bypasses the cache lookup. The result is still written through.
func SkipCache() Option {
	return func(o *callOptions) { o.skipCache = true }
}

// WithDeduplicate toggles collapsing of concurrent calls for the same key.
// Default: true.
func WithDeduplicate(enabled bool) Option {
	return func(o *callOptions) { o.deduplicate = enabled }
}

// WithOnStale registers a callback that FetchWithStale invokes with the
// cached value whenever it serves one, fresh or expired.
func WithOnStale(fn func(value interface{})) Option {
	return func(o *callOptions) { o.onStale = fn }
}

// WithInvalidate lists the patterns ExecuteCritical invalidates after the
// operation succeeds. See CompilePattern for the syntax.
func WithInvalidate(patterns ...string) Option {
	return func(o *callOptions) { o.invalidate = append(o.invalidate, patterns...) }
}

func buildOptions(defaultPriority Priority, opts []Option) callOptions {
	o := callOptions{priority: defaultPriority, deduplicate: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
