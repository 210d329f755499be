// durable.go: persisted cache tier
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agilira/xanthos/compress"
	"github.com/agilira/xanthos/store"
)

// persistedEntry is the envelope written to the provider.
type persistedEntry struct {
	Value         json.RawMessage `json:"value"`
	WrittenAt     int64           `json:"writtenAt"` // unix milliseconds
	SchemaVersion string          `json:"schemaVersion"`
	Tags          []string        `json:"tags,omitempty"`
}

// DurableStore is the persisted tier. Every key is stored under the
// configured namespace, stamped with the schema version and compressed.
// It is advisory: callers log and drop its errors.
type DurableStore struct {
	provider   store.Provider
	compressor compress.Compressor
	namespace  string
	schema     string
	maxBytes   int64
	maxAge     time.Duration
	timeNow    TimeProvider
	logger     Logger

	// cleanupMu makes concurrent cleanups collapse into one.
	cleanupMu sync.Mutex
}

// NewDurableStore wraps provider. cfg must have been validated.
func NewDurableStore(provider store.Provider, cfg Config) *DurableStore {
	return &DurableStore{
		provider:   provider,
		compressor: cfg.Compressor,
		namespace:  cfg.Namespace,
		schema:     cfg.SchemaVersion,
		maxBytes:   cfg.DurableMaxBytes,
		maxAge:     cfg.DurableMaxAge,
		timeNow:    cfg.TimeProvider,
		logger:     cfg.Logger,
	}
}

func (d *DurableStore) nowMillis() int64 {
	return d.timeNow.Now() / int64(time.Millisecond)
}

func (d *DurableStore) decode(key string, data []byte) (persistedEntry, error) {
	var e persistedEntry
	raw, err := d.compressor.Decode(data)
	if err != nil {
		return e, NewErrCorruptedEntry(key, err)
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, NewErrCorruptedEntry(key, err)
	}
	return e, nil
}

// Get returns the JSON-encoded value stored for key. Entries with another
// schema version, undecodable entries and entries older than the
// configured max age are removed and reported absent. A corrupted entry
// also returns an XANTHOS_CORRUPTED_ENTRY error.
func (d *DurableStore) Get(ctx context.Context, key string) (json.RawMessage, []string, bool, error) {
	nsKey := d.namespace + key
	data, found, err := d.provider.Get(ctx, nsKey)
	if err != nil {
		return nil, nil, false, NewErrStorageFailed("get", key, err)
	}
	if !found {
		return nil, nil, false, nil
	}

	e, err := d.decode(key, data)
	if err != nil {
		if derr := d.provider.Delete(ctx, nsKey); derr != nil {
			d.logger.Warn("cannot remove corrupted entry", "key", key, "error", NewErrStorageFailed("delete", key, derr))
		}
		return nil, nil, false, err
	}
	if e.SchemaVersion != d.schema {
		d.logger.Debug("discarding persisted entry", "key", key, "error", NewErrSchemaMismatch(key, e.SchemaVersion, d.schema))
		if err := d.provider.Delete(ctx, nsKey); err != nil {
			return nil, nil, false, NewErrStorageFailed("delete", key, err)
		}
		return nil, nil, false, nil
	}
	if d.maxAge > 0 && d.nowMillis()-e.WrittenAt > d.maxAge.Milliseconds() {
		if err := d.provider.Delete(ctx, nsKey); err != nil {
			return nil, nil, false, NewErrStorageFailed("delete", key, err)
		}
		return nil, nil, false, nil
	}
	return e.Value, e.Tags, true, nil
}

// Set persists value as JSON. When the provider reports it is full, the
// oldest quarter is cleaned up and the write retried once. After a
// successful write the namespace footprint is checked against the budget.
func (d *DurableStore) Set(ctx context.Context, key string, value interface{}, tags []string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return NewErrStorageFailed("marshal", key, err)
	}
	env, err := json.Marshal(persistedEntry{
		Value:         raw,
		WrittenAt:     d.nowMillis(),
		SchemaVersion: d.schema,
		Tags:          tags,
	})
	if err != nil {
		return NewErrStorageFailed("marshal", key, err)
	}
	data, err := d.compressor.Encode(env)
	if err != nil {
		return NewErrStorageFailed("compress", key, err)
	}

	nsKey := d.namespace + key
	err = d.provider.Set(ctx, nsKey, data)
	if store.IsStorageFull(err) {
		d.logger.Warn("durable store full, cleaning up", "key", key)
		if _, cerr := d.Cleanup(ctx); cerr != nil {
			d.logger.Warn("durable cleanup failed", "error", cerr)
		}
		err = d.provider.Set(ctx, nsKey, data)
	}
	if err != nil {
		return NewErrStorageFailed("set", key, err)
	}

	size, _, err := store.Footprint(ctx, d.provider, d.namespace)
	if err != nil {
		return NewErrStorageFailed("footprint", key, err)
	}
	if size > d.maxBytes {
		d.logger.Debug("durable budget exceeded", "bytes", size, "budget", d.maxBytes)
		if _, err := d.Cleanup(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes key.
func (d *DurableStore) Remove(ctx context.Context, key string) error {
	if err := d.provider.Delete(ctx, d.namespace+key); err != nil {
		return NewErrStorageFailed("delete", key, err)
	}
	return nil
}

// RemovePattern deletes every persisted key matched by p. Keys are matched
// without the namespace prefix.
func (d *DurableStore) RemovePattern(ctx context.Context, p *Pattern) (int, error) {
	if key, ok := p.Exact(); ok {
		return 1, d.Remove(ctx, key)
	}
	return d.removeWhere(ctx, func(key string, _ []byte) bool {
		return p.Match(key)
	})
}

// RemoveTag deletes every persisted entry carrying tag, either as its key
// family or as an explicit tag.
func (d *DurableStore) RemoveTag(ctx context.Context, tag string) (int, error) {
	return d.removeWhere(ctx, func(key string, data []byte) bool {
		if KeyFamily(key) == tag {
			return true
		}
		e, err := d.decode(key, data)
		if err != nil {
			return false
		}
		for _, t := range e.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

// Clear deletes the whole namespace.
func (d *DurableStore) Clear(ctx context.Context) (int, error) {
	return d.removeWhere(ctx, func(string, []byte) bool { return true })
}

func (d *DurableStore) removeWhere(ctx context.Context, match func(key string, data []byte) bool) (int, error) {
	var victims []string
	err := d.provider.Scan(ctx, d.namespace, func(nsKey string, data []byte) error {
		if key := strings.TrimPrefix(nsKey, d.namespace); match(key, data) {
			victims = append(victims, nsKey)
		}
		return nil
	})
	if err != nil {
		return 0, NewErrStorageFailed("scan", d.namespace, err)
	}
	removed := 0
	for _, nsKey := range victims {
		if err := d.provider.Delete(ctx, nsKey); err != nil {
			return removed, NewErrStorageFailed("delete", strings.TrimPrefix(nsKey, d.namespace), err)
		}
		removed++
	}
	return removed, nil
}

// Cleanup removes undecodable entries and the oldest 25% (rounded up) of
// the rest by write time. Concurrent calls collapse: a call made while
// another cleanup runs returns immediately with zero.
func (d *DurableStore) Cleanup(ctx context.Context) (int, error) {
	if !d.cleanupMu.TryLock() {
		return 0, nil
	}
	defer d.cleanupMu.Unlock()

	type aged struct {
		nsKey     string
		writtenAt int64
	}
	var entries []aged
	var corrupt []string

	err := d.provider.Scan(ctx, d.namespace, func(nsKey string, data []byte) error {
		e, err := d.decode(nsKey, data)
		if err != nil {
			corrupt = append(corrupt, nsKey)
			return nil
		}
		entries = append(entries, aged{nsKey: nsKey, writtenAt: e.WrittenAt})
		return nil
	})
	if err != nil {
		return 0, NewErrStorageFailed("scan", d.namespace, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].writtenAt < entries[j].writtenAt
	})
	n := (len(entries) + 3) / 4

	victims := corrupt
	for _, e := range entries[:n] {
		victims = append(victims, e.nsKey)
	}

	removed := 0
	for _, nsKey := range victims {
		if err := d.provider.Delete(ctx, nsKey); err != nil {
			return removed, NewErrStorageFailed("delete", nsKey, err)
		}
		removed++
	}
	d.logger.Debug("durable cleanup", "removed", removed, "corrupt", len(corrupt))
	return removed, nil
}

// Footprint reports stored bytes and entry count for the namespace.
func (d *DurableStore) Footprint(ctx context.Context) (int64, int, error) {
	return store.Footprint(ctx, d.provider, d.namespace)
}

// Close closes the provider.
func (d *DurableStore) Close() error {
	return d.provider.Close()
}
