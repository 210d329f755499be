// typed.go: type-safe wrapper over the Facade
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Typed provides a type-safe view of a Facade for values of type T.
// Values promoted from the durable tier arrive as JSON and are decoded
// into T; anything else must already be a T.
//
// Example:
//
//	users := xanthos.NewTyped[User](facade)
//	u, err := users.Fetch(ctx, "user:42", func(ctx context.Context) (User, error) {
//	    return api.GetUser(ctx, 42)
//	})
type Typed[T any] struct {
	f *Facade
}

// NewTyped wraps f. Several Typed views may share one Facade.
func NewTyped[T any](f *Facade) *Typed[T] {
	return &Typed[T]{f: f}
}

// Facade returns the wrapped Facade.
func (t *Typed[T]) Facade() *Facade {
	return t.f
}

func wrap[T any](op func(context.Context) (T, error)) Operation {
	if op == nil {
		return nil
	}
	return func(ctx context.Context) (interface{}, error) {
		return op(ctx)
	}
}

// as converts a cached value to T.
func as[T any](key string, v interface{}) (T, error) {
	var zero T
	switch x := v.(type) {
	case T:
		return x, nil
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(x, &out); err != nil {
			return zero, NewErrTypeMismatch(key, fmt.Sprintf("%T", zero), v)
		}
		return out, nil
	case nil:
		return zero, nil
	}
	return zero, NewErrTypeMismatch(key, fmt.Sprintf("%T", zero), v)
}

// Fetch is the typed form of Facade.Fetch.
func (t *Typed[T]) Fetch(ctx context.Context, key string, op func(context.Context) (T, error), opts ...Option) (T, error) {
	v, err := t.f.Fetch(ctx, key, wrap(op), opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](key, v)
}

// FetchWithStale is the typed form of Facade.FetchWithStale. onStale may
// be nil.
func (t *Typed[T]) FetchWithStale(ctx context.Context, key string, op func(context.Context) (T, error), onStale func(T), opts ...Option) (T, error) {
	if onStale != nil {
		opts = append(opts, WithOnStale(func(v interface{}) {
			if tv, err := as[T](key, v); err == nil {
				onStale(tv)
			}
		}))
	}
	v, err := t.f.FetchWithStale(ctx, key, wrap(op), opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](key, v)
}

// ExecuteCritical is the typed form of Facade.ExecuteCritical.
func (t *Typed[T]) ExecuteCritical(ctx context.Context, key string, op func(context.Context) (T, error), opts ...Option) (T, error) {
	v, err := t.f.ExecuteCritical(ctx, key, wrap(op), opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](key, v)
}

// Prefetch is the typed form of Facade.Prefetch.
func (t *Typed[T]) Prefetch(key string, op func(context.Context) (T, error), opts ...Option) {
	t.f.Prefetch(key, wrap(op), opts...)
}

// Get reads key from the cache. A value of another type is reported as an
// XANTHOS_TYPE_MISMATCH error.
func (t *Typed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	v, ok := t.f.GetCache(ctx, key)
	if !ok {
		return zero, false, nil
	}
	tv, err := as[T](key, v)
	if err != nil {
		return zero, false, err
	}
	return tv, true, nil
}

// Set writes value for key. ttl 0 selects the default TTL.
func (t *Typed[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) error {
	return t.f.SetCache(ctx, key, value, ttl, tags...)
}
