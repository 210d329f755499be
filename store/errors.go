// errors.go: storage provider errors
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"github.com/agilira/go-errors"
)

// Error codes for storage providers
const (
	ErrCodeStorageFull errors.ErrorCode = "XANTHOS_STORAGE_FULL"
	ErrCodeInvalidKey  errors.ErrorCode = "XANTHOS_STORAGE_INVALID_KEY"
	ErrCodeClosed      errors.ErrorCode = "XANTHOS_STORAGE_CLOSED"
)

const (
	msgStorageFull = "storage capacity exhausted"
	msgInvalidKey  = "key is not valid for this provider"
	msgClosed      = "storage provider is closed"
)

// NewErrStorageFull reports that a write failed for lack of space.
// The durable tier reacts by cleaning up and retrying once.
func NewErrStorageFull(provider string, cause error) error {
	if cause == nil {
		return errors.NewWithField(ErrCodeStorageFull, msgStorageFull, "provider", provider).
			AsRetryable()
	}
	return errors.Wrap(cause, ErrCodeStorageFull, msgStorageFull).
		WithContext("provider", provider).
		AsRetryable()
}

// NewErrInvalidKey reports a key the provider cannot store
func NewErrInvalidKey(provider string, key string, reason string) error {
	return errors.NewWithContext(ErrCodeInvalidKey, msgInvalidKey, map[string]interface{}{
		"provider": provider,
		"key":      key,
		"reason":   reason,
	})
}

// NewErrClosed reports use of a closed provider
func NewErrClosed(provider string) error {
	return errors.NewWithField(ErrCodeClosed, msgClosed, "provider", provider)
}

// IsStorageFull checks if error reports exhausted capacity
func IsStorageFull(err error) bool {
	return errors.HasCode(err, ErrCodeStorageFull)
}

// IsInvalidKey checks if error reports an unusable key
func IsInvalidKey(err error) bool {
	return errors.HasCode(err, ErrCodeInvalidKey)
}

// IsClosed checks if error reports use of a closed provider
func IsClosed(err error) bool {
	return errors.HasCode(err, ErrCodeClosed)
}
