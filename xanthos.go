// xanthos.go: package constants
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import "time"

const (
	// Version of the Xanthos data access layer
	Version = "v0.1.0-dev"

	// DefaultMaxConcurrent is the default number of operations executing at once
	DefaultMaxConcurrent = 5

	// DefaultMaxCacheSize is the default number of volatile cache entries
	DefaultMaxCacheSize = 100

	// DefaultTTL is the default time-to-live of volatile entries
	DefaultTTL = 5 * time.Minute

	// DefaultRequestTimeout bounds a single attempt of an operation
	DefaultRequestTimeout = 15 * time.Second

	// DefaultMaxRetries is the number of extra attempts for transient failures
	DefaultMaxRetries = 2

	// DefaultRetryDelay is the fixed delay between attempts
	DefaultRetryDelay = time.Second

	// DefaultPrefetchDelay is how long Prefetch waits before issuing its fetch
	DefaultPrefetchDelay = 100 * time.Millisecond

	// DefaultPauseGrace is the delay between a critical action and the resume
	// of background traffic
	DefaultPauseGrace = 500 * time.Millisecond

	// DefaultNamespace prefixes every durable key
	DefaultNamespace = "xanthos:"

	// DefaultSchemaVersion stamps persisted entries
	DefaultSchemaVersion = "1"

	// DefaultDurableMaxBytes is the durable footprint that triggers cleanup
	DefaultDurableMaxBytes = 5 << 20 // 5 MiB

	// NoExpiration marks a volatile entry that never expires
	NoExpiration time.Duration = -1
)
