// errors.go: structured errors and failure classification for Xanthos
//
// This file provides coded error types using the go-errors library and
// the classification that decides which failures the scheduler retries.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package xanthos

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/agilira/go-errors"
)

// Error codes for Xanthos operations
const (
	// Configuration and argument errors
	ErrCodeInvalidConfig    errors.ErrorCode = "XANTHOS_INVALID_CONFIG"
	ErrCodeEmptyKey         errors.ErrorCode = "XANTHOS_EMPTY_KEY"
	ErrCodeInvalidOperation errors.ErrorCode = "XANTHOS_INVALID_OPERATION"
	ErrCodeInvalidPattern   errors.ErrorCode = "XANTHOS_INVALID_PATTERN"
	ErrCodeInvalidPriority  errors.ErrorCode = "XANTHOS_INVALID_PRIORITY"

	// Execution errors
	ErrCodeTimeout        errors.ErrorCode = "XANTHOS_TIMEOUT"
	ErrCodeTransient      errors.ErrorCode = "XANTHOS_TRANSIENT"
	ErrCodeCancelled      errors.ErrorCode = "XANTHOS_CANCELLED"
	ErrCodeClosed         errors.ErrorCode = "XANTHOS_CLOSED"
	ErrCodePanicRecovered errors.ErrorCode = "XANTHOS_PANIC_RECOVERED"
	ErrCodeTypeMismatch   errors.ErrorCode = "XANTHOS_TYPE_MISMATCH"

	// Durable tier errors
	ErrCodeStorageFailed  errors.ErrorCode = "XANTHOS_STORAGE_FAILED"
	ErrCodeSchemaMismatch errors.ErrorCode = "XANTHOS_SCHEMA_MISMATCH"
	ErrCodeCorruptedEntry errors.ErrorCode = "XANTHOS_CORRUPTED_ENTRY"
)

const (
	msgInvalidConfig    = "invalid configuration"
	msgEmptyKey         = "key cannot be empty"
	msgInvalidOperation = "operation cannot be nil"
	msgInvalidPattern   = "invalid invalidation pattern"
	msgBareRegexp       = "pattern uses regular expression syntax without the re: prefix"
	msgInvalidPriority  = "priority must be between 1 (critical) and 4 (low)"
	msgTimeout          = "operation timed out"
	msgTransient        = "transient failure"
	msgCancelled        = "operation cancelled before it started"
	msgClosed           = "data access layer is closed"
	msgPanicRecovered   = "panic recovered in operation"
	msgTypeMismatch     = "cached value has unexpected type"
	msgStorageFailed    = "durable storage operation failed"
	msgSchemaMismatch   = "persisted entry has a different schema version"
	msgCorruptedEntry   = "persisted entry cannot be decoded"
)

// =============================================================================
// CONFIGURATION ERRORS
// =============================================================================

// NewErrInvalidConfig creates an error for an unusable configuration field
func NewErrInvalidConfig(field string, reason string) error {
	return errors.NewWithContext(ErrCodeInvalidConfig, msgInvalidConfig, map[string]interface{}{
		"field":  field,
		"reason": reason,
	})
}

// NewErrEmptyKey creates an error when key is empty
func NewErrEmptyKey(operation string) error {
	return errors.NewWithField(ErrCodeEmptyKey, msgEmptyKey, "operation", operation)
}

// NewErrInvalidOperation creates an error when the operation is nil
func NewErrInvalidOperation(key string) error {
	return errors.NewWithField(ErrCodeInvalidOperation, msgInvalidOperation, "key", key)
}

// NewErrInvalidPattern creates an error for a pattern that does not compile
func NewErrInvalidPattern(pattern string, cause error) error {
	return errors.Wrap(cause, ErrCodeInvalidPattern, msgInvalidPattern).
		WithContext("pattern", pattern)
}

// NewErrBareRegexp creates an error for a pattern that looks like a regular
// expression but lacks the re: prefix
func NewErrBareRegexp(pattern string) error {
	return errors.NewWithContext(ErrCodeInvalidPattern, msgBareRegexp, map[string]interface{}{
		"pattern": pattern,
		"hint":    RegexpPrefix + pattern,
	})
}

// NewErrInvalidPriority creates an error for an out-of-range priority
func NewErrInvalidPriority(p Priority) error {
	return errors.NewWithField(ErrCodeInvalidPriority, msgInvalidPriority, "priority", int(p))
}

// =============================================================================
// EXECUTION ERRORS
// =============================================================================

// NewErrTimeout creates an error when an attempt exceeds its deadline
func NewErrTimeout(key string, timeout time.Duration) error {
	return errors.NewWithContext(ErrCodeTimeout, msgTimeout, map[string]interface{}{
		"key":     key,
		"timeout": timeout.String(),
	}).AsRetryable()
}

// NewErrTransient marks cause as a transient (network) failure so that the
// scheduler retries it.
func NewErrTransient(cause error) error {
	if cause == nil {
		return errors.New(ErrCodeTransient, msgTransient).AsRetryable()
	}
	return errors.Wrap(cause, ErrCodeTransient, msgTransient).AsRetryable()
}

// NewErrCancelled creates an error for an operation dropped from the queue
func NewErrCancelled(id uint64, priority Priority) error {
	return errors.NewWithContext(ErrCodeCancelled, msgCancelled, map[string]interface{}{
		"operation_id": id,
		"priority":     priority.String(),
	})
}

// NewErrClosed creates an error for calls made after Close
func NewErrClosed(operation string) error {
	return errors.NewWithField(ErrCodeClosed, msgClosed, "operation", operation)
}

// NewErrPanicRecovered creates an error when a panic is recovered
func NewErrPanicRecovered(operation string, panicValue interface{}) error {
	return errors.NewWithContext(ErrCodePanicRecovered, msgPanicRecovered, map[string]interface{}{
		"operation":   operation,
		"panic_value": fmt.Sprintf("%v", panicValue),
	}).WithSeverity("critical")
}

// NewErrTypeMismatch creates an error when a cached value cannot be converted
func NewErrTypeMismatch(key string, want string, got interface{}) error {
	return errors.NewWithContext(ErrCodeTypeMismatch, msgTypeMismatch, map[string]interface{}{
		"key":  key,
		"want": want,
		"got":  fmt.Sprintf("%T", got),
	})
}

// =============================================================================
// STORAGE ERRORS
// =============================================================================

// NewErrStorageFailed wraps a durable provider failure
func NewErrStorageFailed(operation string, key string, cause error) error {
	return errors.Wrap(cause, ErrCodeStorageFailed, msgStorageFailed).
		WithContext("operation", operation).
		WithContext("key", key).
		WithSeverity("warning")
}

// NewErrSchemaMismatch creates an error for an entry stamped with another schema
func NewErrSchemaMismatch(key string, found string, want string) error {
	return errors.NewWithContext(ErrCodeSchemaMismatch, msgSchemaMismatch, map[string]interface{}{
		"key":   key,
		"found": found,
		"want":  want,
	})
}

// NewErrCorruptedEntry creates an error for an undecodable persisted entry
func NewErrCorruptedEntry(key string, cause error) error {
	return errors.Wrap(cause, ErrCodeCorruptedEntry, msgCorruptedEntry).
		WithContext("key", key)
}

// =============================================================================
// ERROR CHECKING HELPERS
// =============================================================================

// IsTimeout checks if error is an attempt timeout
func IsTimeout(err error) bool {
	return errors.HasCode(err, ErrCodeTimeout)
}

// IsCancelled checks if error reports an operation removed from the queue
func IsCancelled(err error) bool {
	return errors.HasCode(err, ErrCodeCancelled)
}

// IsClosed checks if error reports use after Close
func IsClosed(err error) bool {
	return errors.HasCode(err, ErrCodeClosed)
}

// IsEmptyKey checks if error is an empty key error
func IsEmptyKey(err error) bool {
	return errors.HasCode(err, ErrCodeEmptyKey)
}

// IsStorageError checks if error comes from the durable tier
func IsStorageError(err error) bool {
	return errors.HasCode(err, ErrCodeStorageFailed) ||
		errors.HasCode(err, ErrCodeSchemaMismatch) ||
		errors.HasCode(err, ErrCodeCorruptedEntry)
}

// IsRetryable checks if the error declares itself retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable errors.Retryable
	if goerrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// IsTransient reports whether err is worth another attempt: timeouts,
// errors declared retryable, network errors and failures whose message
// carries a network or timeout marker. Everything else (validation, auth,
// domain errors) is returned to the caller without retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, context.Canceled) {
		return false
	}
	if IsTimeout(err) || IsRetryable(err) {
		return true
	}
	if goerrors.Is(err, context.DeadlineExceeded) ||
		goerrors.Is(err, io.ErrUnexpectedEOF) ||
		goerrors.Is(err, syscall.ECONNRESET) ||
		goerrors.Is(err, syscall.ECONNREFUSED) ||
		goerrors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"network",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}

// GetErrorContext extracts context from an error
func GetErrorContext(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	var xErr *errors.Error
	if goerrors.As(err, &xErr) {
		return xErr.Context
	}
	return nil
}
