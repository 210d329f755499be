// settings.go: daemon settings and durable provider selection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agilira/xanthos/store"
	"github.com/agilira/xanthos/store/localfs"
	"github.com/agilira/xanthos/store/memstore"
	"github.com/agilira/xanthos/store/sqlstore"
	"github.com/agilira/xanthos/store/valkey"
	"github.com/caarlos0/env/v11"
)

// settings are the daemon-only knobs. Facade knobs are read separately
// by xanthos.ConfigFromEnv with the same prefix.
type settings struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	BackendURL      string        `env:"BACKEND_URL,required"`
	BackendTimeout  time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	Store           string        `env:"STORE" envDefault:"memory"`
	StoreDir        string        `env:"STORE_DIR" envDefault:"./xanthos-data"`
	SQLitePath      string        `env:"SQLITE_PATH" envDefault:"xanthos.db"`
	PostgresDSN     string        `env:"POSTGRES_DSN"`
	ValkeyAddr      string        `env:"VALKEY_ADDR" envDefault:"127.0.0.1:6379"`
	MemoryQuota     int64         `env:"MEMORY_QUOTA"`
	Compression     string        `env:"COMPRESSION" envDefault:"none"`
	ConfigFile      string        `env:"CONFIG_FILE"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func loadSettings(prefix string) (settings, error) {
	var s settings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: prefix}); err != nil {
		return settings{}, err
	}
	return s, nil
}

// openProvider returns the durable provider named by s.Store.
func openProvider(ctx context.Context, s settings) (store.Provider, error) {
	switch s.Store {
	case "", "memory":
		var opts []memstore.Option
		if s.MemoryQuota > 0 {
			opts = append(opts, memstore.WithQuota(s.MemoryQuota))
		}
		return memstore.New(opts...), nil
	case "localfs":
		return localfs.New(s.StoreDir)
	case "sqlite":
		return sqlstore.OpenSQLite(s.SQLitePath)
	case "postgres":
		if s.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres store needs POSTGRES_DSN")
		}
		return sqlstore.OpenPostgres(s.PostgresDSN)
	case "valkey":
		return valkey.New(ctx, s.ValkeyAddr)
	default:
		return nil, fmt.Errorf("unknown store %q", s.Store)
	}
}
