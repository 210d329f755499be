// main.go: xanthosd, an HTTP front for a remote backend built on xanthos
//
// Configuration is read from XANTHOS_* environment variables. Facade knobs
// use the names of xanthos.Config (XANTHOS_MAX_CONCURRENT, ...); daemon
// knobs are listed in settings.go. XANTHOS_BACKEND_URL is required.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agilira/xanthos"
	"github.com/agilira/xanthos/compress"
	xotel "github.com/agilira/xanthos/otel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const envPrefix = "XANTHOS_"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "xanthosd:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := loadSettings(envPrefix)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, s.LogLevel)

	cfg, err := xanthos.ConfigFromEnv(envPrefix)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return err
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()

	metrics, err := xotel.NewOTelMetricsCollector(meterProvider)
	if err != nil {
		return err
	}

	provider, err := openProvider(ctx, s)
	if err != nil {
		return fmt.Errorf("open %s store: %w", s.Store, err)
	}
	compressor, err := compress.ByName(s.Compression)
	if err != nil {
		_ = provider.Close()
		return err
	}

	cfg.Provider = provider
	cfg.Compressor = compressor
	cfg.Logger = logger
	cfg.MetricsCollector = metrics

	facade, err := xanthos.New(cfg)
	if err != nil {
		_ = provider.Close()
		return err
	}

	if s.ConfigFile != "" {
		hc, err := xanthos.NewHotConfig(facade, xanthos.HotConfigOptions{ConfigPath: s.ConfigFile})
		if err != nil {
			return err
		}
		if err := hc.Start(); err != nil {
			return err
		}
		defer func() { _ = hc.Stop() }()
	}

	srv := &server{
		facade:  facade,
		backend: newBackend(s.BackendURL, s.BackendTimeout),
		logger:  logger,
	}
	e := newEcho(srv, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("xanthosd listening", "addr", s.Addr, "store", s.Store, "backend", s.BackendURL)
		errCh <- e.Start(s.Addr)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", "error", serr)
	}
	if cerr := facade.Close(shutdownCtx); cerr != nil {
		logger.Warn("facade close", "error", cerr)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
