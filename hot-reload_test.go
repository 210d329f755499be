// hot-reload_test.go: tests for live runtime configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfigFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

// TestNewHotConfig tests HotConfig creation
func TestNewHotConfig(t *testing.T) {
	f := newTestFacade(t, nil)
	configPath := writeConfigFile(t, "xanthos.yaml", `xanthos:
  max_retries: 3
`)

	hc, err := NewHotConfig(f, HotConfigOptions{
		ConfigPath:   configPath,
		PollInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHotConfig failed: %v", err)
	}
	defer func() { _ = hc.Stop() }()

	if hc.facade != f {
		t.Error("HotConfig facade reference mismatch")
	}
	if hc.watcher == nil {
		t.Error("Expected non-nil watcher")
	}
}

// TestNewHotConfig_Invalid tests argument validation
func TestNewHotConfig_Invalid(t *testing.T) {
	f := newTestFacade(t, nil)

	if _, err := NewHotConfig(f, HotConfigOptions{ConfigPath: ""}); GetErrorCode(err) != ErrCodeInvalidConfig {
		t.Errorf("Expected invalid config error for empty path, got %v", err)
	}
	if _, err := NewHotConfig(nil, HotConfigOptions{ConfigPath: "x.yaml"}); GetErrorCode(err) != ErrCodeInvalidConfig {
		t.Errorf("Expected invalid config error for nil facade, got %v", err)
	}
}

// TestHotConfig_StartStop tests starting and stopping the watcher
func TestHotConfig_StartStop(t *testing.T) {
	f := newTestFacade(t, nil)
	configPath := writeConfigFile(t, "xanthos.yaml", "xanthos:\n  default_ttl: 1m\n")

	hc, err := NewHotConfig(f, HotConfigOptions{
		ConfigPath:   configPath,
		PollInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHotConfig failed: %v", err)
	}

	if err := hc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Starting twice is harmless.
	if err := hc.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := hc.Stop(); err != nil {
		t.Errorf("Failed to stop: %v", err)
	}
}

// TestHotConfig_ConfigReload tests that a file change reaches the facade
func TestHotConfig_ConfigReload(t *testing.T) {
	f := newTestFacade(t, nil)
	configPath := writeConfigFile(t, "xanthos.yaml", `xanthos:
  max_retries: 3
  default_ttl: 10m
`)

	var mu sync.Mutex
	reloadCount := 0
	reloadCh := make(chan RuntimeConfig, 2)

	hc, err := NewHotConfig(f, HotConfigOptions{
		ConfigPath:   configPath,
		PollInterval: 50 * time.Millisecond,
		OnReload: func(oldConfig, newConfig RuntimeConfig) {
			mu.Lock()
			reloadCount++
			mu.Unlock()
			select {
			case reloadCh <- newConfig:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("NewHotConfig failed: %v", err)
	}
	defer func() { _ = hc.Stop() }()

	if err := hc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case cfg := <-reloadCh:
		if cfg.MaxRetries != 3 || cfg.DefaultTTL != 10*time.Minute {
			t.Fatalf("Initial config wrong: %+v", cfg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timeout waiting for initial config load")
	}

	// Many filesystems have 1-second mtime granularity.
	time.Sleep(1500 * time.Millisecond)

	updated := `xanthos:
  max_retries: 0
  default_ttl: 20m
  request_timeout: 3s
  pause_grace: 2s
  max_cache_size: 40
`
	tempPath := configPath + ".tmp"
	if err := os.WriteFile(tempPath, []byte(updated), 0644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	if err := os.Rename(tempPath, configPath); err != nil {
		t.Fatalf("Failed to rename config: %v", err)
	}

	select {
	case cfg := <-reloadCh:
		if cfg.MaxRetries != 0 {
			t.Errorf("Expected MaxRetries=0, got %d", cfg.MaxRetries)
		}
		if cfg.DefaultTTL != 20*time.Minute {
			t.Errorf("Expected DefaultTTL=20m, got %v", cfg.DefaultTTL)
		}
		if cfg.RequestTimeout != 3*time.Second || cfg.PauseGrace != 2*time.Second {
			t.Errorf("Unexpected timeouts %+v", cfg)
		}
	case <-time.After(3 * time.Second):
		mu.Lock()
		count := reloadCount
		mu.Unlock()
		t.Fatalf("Timeout waiting for config reload. reloadCount=%d (expected at least 2)", count)
	}

	rc := f.Runtime()
	if rc.MaxRetries != 0 || rc.MaxCacheSize != 40 {
		t.Errorf("Facade not updated: %+v", rc)
	}
	if f.Cache().Capacity() != 40 {
		t.Errorf("Expected cache capacity 40, got %d", f.Cache().Capacity())
	}
}

// TestHotConfig_GetConfig tests thread-safe config access
func TestHotConfig_GetConfig(t *testing.T) {
	f := newTestFacade(t, nil)
	configPath := writeConfigFile(t, "xanthos.yaml", "xanthos:\n  retry_delay: 250ms\n")

	hc, err := NewHotConfig(f, HotConfigOptions{
		ConfigPath:   configPath,
		PollInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHotConfig failed: %v", err)
	}
	defer func() { _ = hc.Stop() }()

	// GetConfig works before Start
	if cfg := hc.GetConfig(); cfg.RetryDelay == 0 || cfg.MaxCacheSize == 0 {
		t.Errorf("Expected populated config before start, got %+v", cfg)
	}

	if err := hc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if cfg := hc.GetConfig(); cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("Expected RetryDelay=250ms, got %v", cfg.RetryDelay)
	}
}

// TestHotConfig_ParseConfig tests configuration parsing
func TestHotConfig_ParseConfig(t *testing.T) {
	f := newTestFacade(t, nil)
	configPath := writeConfigFile(t, "dummy.yaml", "xanthos: {}")

	hc, err := NewHotConfig(f, HotConfigOptions{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("NewHotConfig failed: %v", err)
	}
	defer func() { _ = hc.Stop() }()

	base := f.Runtime()
	tests := []struct {
		name   string
		data   map[string]interface{}
		expect func(*testing.T, RuntimeConfig)
	}{
		{
			name: "all fields",
			data: map[string]interface{}{
				"xanthos": map[string]interface{}{
					"request_timeout": "5s",
					"max_retries":     float64(4),
					"retry_delay":     "100ms",
					"default_ttl":     "30m",
					"prefetch_delay":  "20ms",
					"pause_grace":     "750ms",
					"max_cache_size":  float64(250),
				},
			},
			expect: func(t *testing.T, cfg RuntimeConfig) {
				want := RuntimeConfig{
					RequestTimeout: 5 * time.Second,
					MaxRetries:     4,
					RetryDelay:     100 * time.Millisecond,
					DefaultTTL:     30 * time.Minute,
					PrefetchDelay:  20 * time.Millisecond,
					PauseGrace:     750 * time.Millisecond,
					MaxCacheSize:   250,
				}
				if cfg != want {
					t.Errorf("expected %+v, got %+v", want, cfg)
				}
			},
		},
		{
			name: "flat file",
			data: map[string]interface{}{"max_retries": 7},
			expect: func(t *testing.T, cfg RuntimeConfig) {
				if cfg.MaxRetries != 7 {
					t.Errorf("Expected MaxRetries=7, got %d", cfg.MaxRetries)
				}
			},
		},
		{
			name: "missing section keeps base",
			data: map[string]interface{}{"other": "value"},
			expect: func(t *testing.T, cfg RuntimeConfig) {
				if cfg != base {
					t.Errorf("Expected base config, got %+v", cfg)
				}
			},
		},
		{
			name: "invalid values ignored",
			data: map[string]interface{}{
				"xanthos": map[string]interface{}{
					"default_ttl":    "invalid-duration",
					"max_retries":    float64(1000),
					"retry_delay":    "-1s",
					"max_cache_size": float64(-3),
					"max_concurrent": float64(10),
				},
			},
			expect: func(t *testing.T, cfg RuntimeConfig) {
				if cfg != base {
					t.Errorf("Expected base config, got %+v", cfg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.expect(t, hc.parseConfig(base, tt.data))
		})
	}
}

// TestHotConfig_JSONFormat tests JSON configuration format
func TestHotConfig_JSONFormat(t *testing.T) {
	f := newTestFacade(t, nil)
	configPath := writeConfigFile(t, "xanthos.json", `{
  "xanthos": {
    "max_retries": 5,
    "default_ttl": "25m"
  }
}`)

	reloadCh := make(chan RuntimeConfig, 1)
	hc, err := NewHotConfig(f, HotConfigOptions{
		ConfigPath:   configPath,
		PollInterval: 100 * time.Millisecond,
		OnReload: func(oldConfig, newConfig RuntimeConfig) {
			select {
			case reloadCh <- newConfig:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("NewHotConfig failed: %v", err)
	}
	defer func() { _ = hc.Stop() }()

	if err := hc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case cfg := <-reloadCh:
		if cfg.MaxRetries != 5 {
			t.Errorf("Expected MaxRetries=5, got %d", cfg.MaxRetries)
		}
		if cfg.DefaultTTL != 25*time.Minute {
			t.Errorf("Expected DefaultTTL=25m, got %v", cfg.DefaultTTL)
		}
	case <-time.After(2 * time.Second):
		t.Error("Timeout waiting for JSON config load")
	}
}

// BenchmarkHotConfig_GetConfig benchmarks thread-safe config access
func BenchmarkHotConfig_GetConfig(b *testing.B) {
	f, err := New(DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	configPath := writeConfigFile(b, "bench.yaml", "xanthos: {max_retries: 1}")

	hc, err := NewHotConfig(f, HotConfigOptions{ConfigPath: configPath})
	if err != nil {
		b.Fatalf("NewHotConfig failed: %v", err)
	}
	defer func() { _ = hc.Stop() }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = hc.GetConfig()
	}
}
