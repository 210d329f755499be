// store.go: durable storage provider contract
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package store defines the storage primitive behind the durable cache tier.
// A Provider is a plain byte-oriented key/value store; namespacing, schema
// stamping, compression and size budgeting are done by the caller.
package store

import "context"

// Provider is a persisted key/value store.
// All methods must be safe for concurrent use.
type Provider interface {
	// Get returns the bytes stored under key. found is false when the key
	// does not exist; that is not an error.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key, replacing any previous value.
	// Providers report exhausted capacity with NewErrStorageFull.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan calls fn for every key starting with prefix. Returning an error
	// from fn stops the scan and is returned by Scan.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Close releases any resources held by the provider.
	Close() error
}

// Sizer is implemented by providers that can report the footprint of a
// prefix without reading every value.
type Sizer interface {
	Size(ctx context.Context, prefix string) (bytes int64, count int, err error)
}

// Footprint returns the number of bytes (keys plus values) and entries
// stored under prefix, using Sizer when the provider implements it.
func Footprint(ctx context.Context, p Provider, prefix string) (int64, int, error) {
	if s, ok := p.(Sizer); ok {
		return s.Size(ctx, prefix)
	}
	var total int64
	count := 0
	err := p.Scan(ctx, prefix, func(key string, value []byte) error {
		total += int64(len(key) + len(value))
		count++
		return nil
	})
	return total, count, err
}
