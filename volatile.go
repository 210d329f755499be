// volatile.go: in-memory cache tier
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Source identifies the tier that served a lookup.
type Source int

const (
	// SourceNone means nothing valid was found.
	SourceNone Source = iota
	// SourceMemory means the volatile tier served the value.
	SourceMemory
	// SourceDurable means the value was read from the durable tier.
	SourceDurable
)

func (s Source) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourceDurable:
		return "durable"
	default:
		return "none"
	}
}

// entry is a volatile cache entry. ttl < 0 never expires.
type entry struct {
	value     interface{}
	writtenAt int64
	ttl       int64
	tags      []string
}

func (e *entry) valid(now int64) bool {
	return e.ttl < 0 || now-e.writtenAt <= e.ttl
}

// WarmStep is a pending promotion of a durable value into memory.
type WarmStep struct {
	Key   string
	Value interface{}
	Tags  []string
}

// LookupResult is the outcome of a side-effect free read.
type LookupResult struct {
	Value  interface{}
	Found  bool
	Source Source

	// Expired is set when memory held an entry past its TTL.
	Expired bool

	// Warm is non-nil when the value came from the durable tier and should
	// be re-seeded into memory.
	Warm *WarmStep
}

// VolatileCache is the bounded in-memory tier. Eviction is by write time:
// reads never refresh an entry's position. Keys matching the persist
// allow-list are written through to the durable tier when one is set.
type VolatileCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *entry]
	capacity int
	families map[string]map[string]struct{}
	tags     map[string]map[string]struct{}

	durable *DurableStore
	persist []*regexp.Regexp

	// durMu is held shared by promoting reads and exclusively by writes and
	// removals, from before memory changes until the durable call returns.
	// A promotion therefore never lands between the two tiers of a write.
	durMu sync.RWMutex

	defaultTTL atomic.Int64
	timeNow    TimeProvider
	logger     Logger
	metrics    MetricsCollector

	hits       atomic.Uint64
	misses     atomic.Uint64
	promotions atomic.Uint64
	evictions  atomic.Uint64
}

// NewVolatileCache creates the memory tier. durable may be nil.
// cfg must have been validated.
func NewVolatileCache(cfg Config, durable *DurableStore) *VolatileCache {
	c := &VolatileCache{
		families: make(map[string]map[string]struct{}),
		tags:     make(map[string]map[string]struct{}),
		capacity: cfg.MaxCacheSize,
		durable:  durable,
		persist:  cfg.persistMatcher(),
		timeNow:  cfg.TimeProvider,
		logger:   cfg.Logger,
		metrics:  cfg.MetricsCollector,
	}
	c.defaultTTL.Store(int64(cfg.DefaultTTL))
	// size > 0 after Validate, NewLRU cannot fail.
	c.lru, _ = simplelru.NewLRU[string, *entry](cfg.MaxCacheSize, c.onRemove)
	return c
}

// onRemove keeps the tag indexes in sync. Called with mu held.
func (c *VolatileCache) onRemove(key string, e *entry) {
	c.unindex(key, e)
}

func (c *VolatileCache) index(key string, e *entry) {
	addTo(c.families, KeyFamily(key), key)
	for _, t := range e.tags {
		addTo(c.tags, t, key)
	}
}

func (c *VolatileCache) unindex(key string, e *entry) {
	removeFrom(c.families, KeyFamily(key), key)
	for _, t := range e.tags {
		removeFrom(c.tags, t, key)
	}
}

func addTo(idx map[string]map[string]struct{}, tag, key string) {
	set, ok := idx[tag]
	if !ok {
		set = make(map[string]struct{})
		idx[tag] = set
	}
	set[key] = struct{}{}
}

func removeFrom(idx map[string]map[string]struct{}, tag, key string) {
	if set, ok := idx[tag]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(idx, tag)
		}
	}
}

// persistable reports whether key is on the durable allow-list.
func (c *VolatileCache) persistable(key string) bool {
	if c.durable == nil {
		return false
	}
	for _, re := range c.persist {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

func (c *VolatileCache) storageError(op, key string, err error) {
	c.metrics.RecordStorageError()
	c.logger.Warn("durable store error", "op", op, "key", key, "error", err)
}

// SetDefaultTTL changes the TTL applied when Set is called without one.
func (c *VolatileCache) SetDefaultTTL(ttl time.Duration) {
	if ttl > 0 {
		c.defaultTTL.Store(int64(ttl))
	}
}

// DefaultTTL returns the current default TTL.
func (c *VolatileCache) DefaultTTL() time.Duration {
	return time.Duration(c.defaultTTL.Load())
}

// Lookup reads key without changing any state. An expired memory entry is
// reported through Expired; the durable tier is consulted for allow-listed
// keys and a hit there comes back with a WarmStep for the caller to apply.
func (c *VolatileCache) Lookup(ctx context.Context, key string) LookupResult {
	var res LookupResult

	c.mu.Lock()
	if e, ok := c.lru.Peek(key); ok {
		if e.valid(c.timeNow.Now()) {
			c.mu.Unlock()
			return LookupResult{Value: e.value, Found: true, Source: SourceMemory}
		}
		res.Expired = true
	}
	c.mu.Unlock()

	if !c.persistable(key) {
		return res
	}
	raw, tags, found, err := c.durable.Get(ctx, key)
	if err != nil {
		c.storageError("get", key, err)
		return res
	}
	if !found {
		return res
	}
	res.Value = raw
	res.Found = true
	res.Source = SourceDurable
	res.Warm = &WarmStep{Key: key, Value: raw, Tags: tags}
	return res
}

// Warm seeds memory with a promoted value using the default TTL. It does
// not write back to the durable tier. Get applies it under the same lock
// that writes and invalidations take; callers composing Lookup and Warm
// themselves get no such ordering.
func (c *VolatileCache) Warm(step WarmStep) {
	c.insert(step.Key, step.Value, c.DefaultTTL(), step.Tags)
	c.promotions.Add(1)
}

// Get returns the value for key if it is valid. An expired memory copy is
// dropped, then allow-listed keys are promoted from the durable tier.
func (c *VolatileCache) Get(ctx context.Context, key string) (interface{}, bool) {
	persist := c.persistable(key)
	if persist {
		c.durMu.RLock()
		defer c.durMu.RUnlock()
	}

	res := c.Lookup(ctx, key)
	if res.Expired {
		c.dropExpired(key)
	}
	if res.Warm != nil {
		c.Warm(*res.Warm)
	}
	if res.Found {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return res.Value, res.Found
}

// dropExpired removes key only if the entry there is still expired.
func (c *VolatileCache) dropExpired(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Peek(key); ok && !e.valid(c.timeNow.Now()) {
		c.lru.Remove(key)
	}
}

// Set stores value. ttl 0 selects the default TTL, NoExpiration keeps the
// entry until it is evicted or invalidated. When the cache is full the
// oldest-written entry is evicted. Allow-listed keys are also persisted;
// durable failures are logged and ignored.
func (c *VolatileCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) {
	if ttl == 0 {
		ttl = c.DefaultTTL()
	}
	if !c.persistable(key) {
		c.insert(key, value, ttl, tags)
		return
	}

	c.durMu.Lock()
	defer c.durMu.Unlock()
	c.insert(key, value, ttl, tags)
	if err := c.durable.Set(ctx, key, value, tags); err != nil {
		c.storageError("set", key, err)
	}
}

func (c *VolatileCache) insert(key string, value interface{}, ttl time.Duration, tags []string) {
	e := &entry{
		value:     value,
		writtenAt: c.timeNow.Now(),
		ttl:       int64(ttl),
		tags:      append([]string(nil), tags...),
	}
	if ttl < 0 {
		e.ttl = -1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(key); ok {
		c.unindex(key, old)
	}
	if c.lru.Add(key, e) {
		c.evictions.Add(1)
		c.metrics.RecordEviction()
	}
	c.index(key, e)
}

// Has reports whether a valid value exists for key in either tier.
func (c *VolatileCache) Has(ctx context.Context, key string) bool {
	_, ok := c.Get(ctx, key)
	return ok
}

// HasStale reports whether any value exists for key, expired or not.
func (c *VolatileCache) HasStale(ctx context.Context, key string) bool {
	_, found, _ := c.GetStale(ctx, key)
	return found
}

// GetStale returns the value for key regardless of expiry. expired is true
// when the value came from an expired memory entry. A memory miss falls
// back to the durable tier, promoting the value.
func (c *VolatileCache) GetStale(ctx context.Context, key string) (value interface{}, found bool, expired bool) {
	c.mu.Lock()
	if e, ok := c.lru.Peek(key); ok {
		expired = !e.valid(c.timeNow.Now())
		c.mu.Unlock()
		return e.value, true, expired
	}
	c.mu.Unlock()

	v, ok := c.Get(ctx, key)
	return v, ok, false
}

// Invalidate removes key from both tiers.
func (c *VolatileCache) Invalidate(ctx context.Context, key string) {
	defer c.lockDurable()()

	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()

	if c.durable == nil {
		return
	}
	if err := c.durable.Remove(ctx, key); err != nil {
		c.storageError("remove", key, err)
	}
}

// InvalidatePattern removes every key selected by pattern from both tiers
// and returns the number of memory entries removed.
func (c *VolatileCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	p, err := CompilePattern(pattern)
	if err != nil {
		return 0, err
	}
	return c.invalidateCompiled(ctx, p), nil
}

func (c *VolatileCache) invalidateCompiled(ctx context.Context, p *Pattern) int {
	defer c.lockDurable()()

	if key, ok := p.Exact(); ok {
		c.mu.Lock()
		n := 0
		if c.lru.Remove(key) {
			n = 1
		}
		c.mu.Unlock()
		c.removeDurable(ctx, p)
		return n
	}

	c.mu.Lock()
	var victims []string
	if fam, ok := p.Family(); ok {
		for key := range c.families[fam] {
			if p.Match(key) {
				victims = append(victims, key)
			}
		}
	} else {
		for _, key := range c.lru.Keys() {
			if p.Match(key) {
				victims = append(victims, key)
			}
		}
	}
	for _, key := range victims {
		c.lru.Remove(key)
	}
	c.mu.Unlock()

	c.removeDurable(ctx, p)
	return len(victims)
}

// lockDurable takes durMu exclusively when a durable tier is attached and
// returns the matching unlock.
func (c *VolatileCache) lockDurable() func() {
	if c.durable == nil {
		return func() {}
	}
	c.durMu.Lock()
	return c.durMu.Unlock
}

// removeDurable is called with durMu held.
func (c *VolatileCache) removeDurable(ctx context.Context, p *Pattern) {
	if c.durable == nil {
		return
	}
	if _, err := c.durable.RemovePattern(ctx, p); err != nil {
		c.storageError("remove_pattern", p.String(), err)
	}
}

// InvalidateRegexp removes every key matched by re from both tiers.
func (c *VolatileCache) InvalidateRegexp(ctx context.Context, re *regexp.Regexp) int {
	return c.invalidateCompiled(ctx, &Pattern{raw: RegexpPrefix + re.String(), re: re})
}

// InvalidateTag removes every entry carrying tag, explicit or as its key
// family, from both tiers.
func (c *VolatileCache) InvalidateTag(ctx context.Context, tag string) int {
	defer c.lockDurable()()

	c.mu.Lock()
	seen := make(map[string]struct{}, len(c.tags[tag])+len(c.families[tag]))
	for key := range c.tags[tag] {
		seen[key] = struct{}{}
	}
	for key := range c.families[tag] {
		seen[key] = struct{}{}
	}
	for key := range seen {
		c.lru.Remove(key)
	}
	c.mu.Unlock()

	if c.durable != nil {
		if _, err := c.durable.RemoveTag(ctx, tag); err != nil {
			c.storageError("remove_tag", tag, err)
		}
	}
	return len(seen)
}

// Clear drops both tiers entirely.
func (c *VolatileCache) Clear(ctx context.Context) {
	defer c.lockDurable()()

	c.mu.Lock()
	c.lru.Purge()
	c.families = make(map[string]map[string]struct{})
	c.tags = make(map[string]map[string]struct{})
	c.mu.Unlock()

	if c.durable == nil {
		return
	}
	if _, err := c.durable.Clear(ctx); err != nil {
		c.storageError("clear", "", err)
	}
}

// Resize changes the capacity, evicting the oldest-written entries if the
// cache shrinks below its current size.
func (c *VolatileCache) Resize(size int) int {
	if size <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := c.lru.Resize(size)
	c.capacity = size
	for i := 0; i < evicted; i++ {
		c.metrics.RecordEviction()
	}
	c.evictions.Add(uint64(evicted))
	return evicted
}

// Len returns the number of entries in memory, expired ones included.
func (c *VolatileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the maximum number of entries.
func (c *VolatileCache) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Stats returns counters for the memory tier.
func (c *VolatileCache) Stats() CacheStats {
	c.mu.Lock()
	size, capacity := c.lru.Len(), c.capacity
	c.mu.Unlock()
	return CacheStats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Promotions: c.promotions.Load(),
		Evictions:  c.evictions.Load(),
		Size:       size,
		Capacity:   capacity,
	}
}
