// hot-reload.go: live runtime configuration with Argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"sync"
	"time"

	"github.com/agilira/argus"
)

// HotConfig watches a configuration file with Argus and applies the
// runtime knobs it contains to a live Facade.
type HotConfig struct {
	facade  *Facade
	watcher *argus.Watcher
	logger  Logger

	mu     sync.RWMutex
	config RuntimeConfig

	// OnReload is called after a change has been applied.
	// It must be fast and non-blocking.
	OnReload func(oldConfig, newConfig RuntimeConfig)
}

// HotConfigOptions configures hot reload behavior.
type HotConfigOptions struct {
	// ConfigPath is the file to watch. Any format Argus parses works
	// (JSON, YAML, TOML, HCL, INI, Properties).
	ConfigPath string

	// PollInterval is how often the file is checked.
	// Default: 1 second. Minimum: 100ms.
	PollInterval time.Duration

	// OnReload is called after a change has been applied.
	OnReload func(oldConfig, newConfig RuntimeConfig)

	// Logger for reload events. If nil, the facade's logger is used.
	Logger Logger
}

// NewHotConfig creates a watcher bound to f. Call Start to begin watching.
//
// Example configuration file (YAML):
//
//	xanthos:
//	  request_timeout: "10s"
//	  max_retries: 3
//	  retry_delay: "500ms"
//	  default_ttl: "2m"
//	  prefetch_delay: "50ms"
//	  pause_grace: "1s"
//	  max_cache_size: 500
//
// max_concurrent is read but only reported: the concurrency gate is sized
// at construction.
func NewHotConfig(f *Facade, opts HotConfigOptions) (*HotConfig, error) {
	if f == nil {
		return nil, NewErrInvalidConfig("facade", "facade is required")
	}
	if opts.ConfigPath == "" {
		return nil, NewErrInvalidConfig("ConfigPath", "config path is required")
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	} else if opts.PollInterval < 100*time.Millisecond {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = f.logger
	}

	hc := &HotConfig{
		facade:   f,
		logger:   opts.Logger,
		config:   f.Runtime(),
		OnReload: opts.OnReload,
	}

	watcher, err := argus.UniversalConfigWatcherWithConfig(opts.ConfigPath, hc.handleConfigChange, argus.Config{
		PollInterval: opts.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	hc.watcher = watcher
	return hc, nil
}

// Start begins watching. Starting a running watcher is a no-op.
func (hc *HotConfig) Start() error {
	if hc.watcher.IsRunning() {
		return nil
	}
	return hc.watcher.Start()
}

// Stop stops watching.
func (hc *HotConfig) Stop() error {
	return hc.watcher.Stop()
}

// GetConfig returns the last applied runtime configuration.
func (hc *HotConfig) GetConfig() RuntimeConfig {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.config
}

func (hc *HotConfig) handleConfigChange(data map[string]interface{}) {
	hc.mu.Lock()
	oldConfig := hc.config
	newConfig := hc.parseConfig(oldConfig, data)
	hc.facade.UpdateRuntime(newConfig)
	hc.config = hc.facade.Runtime()
	newConfig = hc.config
	hc.mu.Unlock()

	if hc.OnReload != nil {
		hc.OnReload(oldConfig, newConfig)
	}
}

// parseConfig overlays the values found in data on base. Invalid or
// missing values keep the base value.
func (hc *HotConfig) parseConfig(base RuntimeConfig, data map[string]interface{}) RuntimeConfig {
	section, ok := data["xanthos"].(map[string]interface{})
	if !ok {
		// Accept a flat file as well.
		section = data
	}
	cfg := base

	if d, ok := parseDuration(section["request_timeout"]); ok && d > 0 {
		cfg.RequestTimeout = d
	}
	if n, ok := parseIntInRange(section["max_retries"], 0, 100); ok {
		cfg.MaxRetries = n
	}
	if d, ok := parseDuration(section["retry_delay"]); ok && d > 0 {
		cfg.RetryDelay = d
	}
	if d, ok := parseDuration(section["default_ttl"]); ok && d > 0 {
		cfg.DefaultTTL = d
	}
	if d, ok := parseDuration(section["prefetch_delay"]); ok && d > 0 {
		cfg.PrefetchDelay = d
	}
	if d, ok := parseDuration(section["pause_grace"]); ok && d > 0 {
		cfg.PauseGrace = d
	}
	if n, ok := parsePositiveInt(section["max_cache_size"]); ok {
		cfg.MaxCacheSize = n
	}
	if n, ok := parsePositiveInt(section["max_concurrent"]); ok {
		hc.logger.Warn("max_concurrent changes need a new Facade", "requested", n)
	}
	return cfg
}

// parsePositiveInt accepts int and float64 (YAML and JSON decoders differ).
func parsePositiveInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		if v > 0 {
			return v, true
		}
	case int64:
		if v > 0 {
			return int(v), true
		}
	case float64:
		if v > 0 {
			return int(v), true
		}
	}
	return 0, false
}

func parseIntInRange(value interface{}, min, max int) (int, bool) {
	switch v := value.(type) {
	case int:
		if v >= min && v <= max {
			return v, true
		}
	case int64:
		if v >= int64(min) && v <= int64(max) {
			return int(v), true
		}
	case float64:
		if v >= float64(min) && v <= float64(max) {
			return int(v), true
		}
	}
	return 0, false
}

// parseDuration accepts duration strings ("1h", "30s").
func parseDuration(value interface{}) (time.Duration, bool) {
	if str, ok := value.(string); ok {
		if d, err := time.ParseDuration(str); err == nil {
			return d, true
		}
	}
	return 0, false
}
