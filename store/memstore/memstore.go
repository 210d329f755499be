// memstore.go: in-process storage provider
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package memstore provides an in-memory store.Provider with an optional
// byte quota. It backs tests and processes that want durable-tier
// semantics (schema stamping, budgeted cleanup) without touching disk.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/agilira/xanthos/store"
)

const providerName = "memstore"

// Store is a map-backed provider. The zero value is not usable; use New.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	used   int64
	quota  int64
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithQuota makes Set fail with a storage-full error once keys plus values
// would exceed quota bytes. Zero means unlimited.
func WithQuota(quota int64) Option {
	return func(s *Store) {
		s.quota = quota
	}
}

// New creates an empty in-memory provider.
func New(opts ...Option) *Store {
	s := &Store{data: make(map[string][]byte)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the bytes stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, store.NewErrClosed(providerName)
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return store.NewErrInvalidKey(providerName, key, "empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.NewErrClosed(providerName)
	}

	delta := int64(len(key) + len(value))
	if old, ok := s.data[key]; ok {
		delta -= int64(len(key) + len(old))
	}
	if s.quota > 0 && s.used+delta > s.quota {
		return store.NewErrStorageFull(providerName, nil)
	}

	s.data[key] = append([]byte(nil), value...)
	s.used += delta
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.NewErrClosed(providerName)
	}
	if old, ok := s.data[key]; ok {
		s.used -= int64(len(key) + len(old))
		delete(s.data, key)
	}
	return nil
}

// Scan visits keys under prefix in lexical order. fn runs on a snapshot,
// so it may call back into the store.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return store.NewErrClosed(providerName)
	}
	keys := make([]string, 0, len(s.data))
	values := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			values[k] = append([]byte(nil), v...)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// Size reports the footprint of prefix without copying values.
func (s *Store) Size(ctx context.Context, prefix string) (int64, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, 0, store.NewErrClosed(providerName)
	}
	var total int64
	count := 0
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			total += int64(len(k) + len(v))
			count++
		}
	}
	return total, count, nil
}

// Len returns the number of stored keys across all prefixes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close marks the store closed. Data is dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	s.used = 0
	return nil
}

var (
	_ store.Provider = (*Store)(nil)
	_ store.Sizer    = (*Store)(nil)
)
