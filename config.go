// config.go: configuration for Xanthos
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"regexp"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/agilira/xanthos/compress"
	"github.com/agilira/xanthos/store"
	"github.com/caarlos0/env/v11"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds configuration parameters for a Facade.
// Scalar fields can be loaded from the environment with ConfigFromEnv.
type Config struct {
	// MaxConcurrent caps the operations executing at the same time.
	// Default: DefaultMaxConcurrent.
	MaxConcurrent int `env:"MAX_CONCURRENT"`

	// MaxCacheSize is the capacity of the volatile tier.
	// Default: DefaultMaxCacheSize.
	MaxCacheSize int `env:"MAX_CACHE_SIZE"`

	// DefaultTTL applies to entries set without an explicit TTL.
	// Default: DefaultTTL.
	DefaultTTL time.Duration `env:"DEFAULT_TTL"`

	// RequestTimeout bounds every attempt of an operation.
	// Default: DefaultRequestTimeout.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`

	// MaxRetries is the number of extra attempts for transient failures.
	// Zero disables retries. DefaultConfig and ConfigFromEnv start from
	// DefaultMaxRetries.
	MaxRetries int `env:"MAX_RETRIES"`

	// RetryDelay is the fixed delay between attempts.
	// Default: DefaultRetryDelay.
	RetryDelay time.Duration `env:"RETRY_DELAY"`

	// PrefetchDelay is how long Prefetch waits before fetching.
	// Default: DefaultPrefetchDelay.
	PrefetchDelay time.Duration `env:"PREFETCH_DELAY"`

	// PauseGrace is the delay before background traffic resumes after a
	// critical action, leaving room for real-time invalidations to land.
	// Default: DefaultPauseGrace.
	PauseGrace time.Duration `env:"PAUSE_GRACE"`

	// Namespace prefixes every key written to the durable provider.
	// Default: DefaultNamespace.
	Namespace string `env:"NAMESPACE"`

	// SchemaVersion stamps persisted entries. Entries with a different
	// version are discarded on read. Default: DefaultSchemaVersion.
	SchemaVersion string `env:"SCHEMA_VERSION"`

	// DurableMaxBytes is the namespace footprint above which the oldest
	// quarter of persisted entries is removed. Default: DefaultDurableMaxBytes.
	DurableMaxBytes int64 `env:"DURABLE_MAX_BYTES"`

	// DurableMaxAge discards persisted entries older than this on read.
	// If 0, persisted entries do not age out. Default: 0.
	DurableMaxAge time.Duration `env:"DURABLE_MAX_AGE"`

	// PersistPatterns is the allow-list of regular expressions selecting
	// the keys that are also written to the durable tier.
	PersistPatterns []string `env:"PERSIST_PATTERNS" envSeparator:","`

	// Provider is the durable storage primitive. If nil, caching is memory-only.
	Provider store.Provider `env:"-"`

	// Compressor encodes persisted entries. Default: compress.None().
	Compressor compress.Compressor `env:"-"`

	// Logger is used for debugging and monitoring.
	// If nil, NoOpLogger is used.
	Logger Logger `env:"-"`

	// TimeProvider stamps cache entries. If nil and Clock is set, the clock
	// is used; otherwise go-timecache.
	TimeProvider TimeProvider `env:"-"`

	// Clock drives delays and attempt deadlines. Default: real clock.
	Clock clockwork.Clock `env:"-"`

	// MetricsCollector receives data access events.
	// If nil, NoOpMetricsCollector is used.
	MetricsCollector MetricsCollector `env:"-"`

	// Tracer opens a span around every scheduled execution.
	// If nil, a no-op tracer is used.
	Tracer trace.Tracer `env:"-"`
}

// Validate applies defaults and rejects values that cannot be normalised.
//
// Default values applied:
//   - MaxConcurrent: DefaultMaxConcurrent if <= 0
//   - MaxCacheSize: DefaultMaxCacheSize if <= 0
//   - DefaultTTL, RequestTimeout, RetryDelay, PrefetchDelay, PauseGrace: package defaults if <= 0
//   - Namespace, SchemaVersion: package defaults if empty
//   - DurableMaxBytes: DefaultDurableMaxBytes if <= 0
//   - Logger, TimeProvider, Clock, MetricsCollector, Tracer, Compressor: no-op or system implementations if nil
//
// PersistPatterns must all compile; otherwise an XANTHOS_INVALID_CONFIG error is returned.
func (c *Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxCacheSize <= 0 {
		c.MaxCacheSize = DefaultMaxCacheSize
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.PrefetchDelay <= 0 {
		c.PrefetchDelay = DefaultPrefetchDelay
	}
	if c.PauseGrace <= 0 {
		c.PauseGrace = DefaultPauseGrace
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = DefaultSchemaVersion
	}
	if c.DurableMaxBytes <= 0 {
		c.DurableMaxBytes = DefaultDurableMaxBytes
	}
	if c.DurableMaxAge < 0 {
		c.DurableMaxAge = 0
	}

	for _, p := range c.PersistPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return NewErrInvalidConfig("PersistPatterns", err.Error())
		}
	}

	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
		if c.TimeProvider == nil {
			c.TimeProvider = &systemTimeProvider{}
		}
	}
	if c.TimeProvider == nil {
		c.TimeProvider = ClockTimeProvider(c.Clock)
	}
	if c.MetricsCollector == nil {
		c.MetricsCollector = NoOpMetricsCollector{}
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("github.com/agilira/xanthos")
	}
	if c.Compressor == nil {
		c.Compressor = compress.None()
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
// MaxRetries is set explicitly because its zero value is meaningful.
func DefaultConfig() Config {
	cfg := Config{MaxRetries: DefaultMaxRetries}
	_ = cfg.Validate() // defaults only, nothing to reject
	return cfg
}

// ConfigFromEnv loads the scalar fields of Config from environment
// variables named prefix + field tag (e.g. "XANTHOS_MAX_CONCURRENT").
// Unset variables keep the DefaultConfig values. Injected collaborators
// (Provider, Logger, ...) must be assigned by the caller afterwards.
func ConfigFromEnv(prefix string) (Config, error) {
	cfg := Config{MaxRetries: DefaultMaxRetries}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, NewErrInvalidConfig("environment", err.Error())
	}
	return cfg, nil
}

// persistMatcher compiles the allow-list. Validate has already checked it.
func (c *Config) persistMatcher() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(c.PersistPatterns))
	for _, p := range c.PersistPatterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// systemTimeProvider is the default time provider using go-timecache.
type systemTimeProvider struct{}

func (t *systemTimeProvider) Now() int64 {
	return timecache.CachedTimeNano()
}

// ClockTimeProvider adapts a clockwork.Clock to TimeProvider, so that a
// fake clock drives both entry timestamps and delays in tests.
func ClockTimeProvider(clock clockwork.Clock) TimeProvider {
	return clockTimeProvider{clock: clock}
}

type clockTimeProvider struct {
	clock clockwork.Clock
}

func (c clockTimeProvider) Now() int64 {
	return c.clock.Now().UnixNano()
}
