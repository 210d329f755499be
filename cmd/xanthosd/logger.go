// logger.go: slog adapter for the xanthos Logger interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/agilira/xanthos"
)

type slogLogger struct {
	l *slog.Logger
}

var _ xanthos.Logger = slogLogger{}

func newLogger(w io.Writer, level string) slogLogger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slogLogger{l: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv}))}
}

func (s slogLogger) Debug(msg string, keyvals ...interface{}) { s.l.Debug(msg, keyvals...) }
func (s slogLogger) Info(msg string, keyvals ...interface{})  { s.l.Info(msg, keyvals...) }
func (s slogLogger) Warn(msg string, keyvals ...interface{})  { s.l.Warn(msg, keyvals...) }
func (s slogLogger) Error(msg string, keyvals ...interface{}) { s.l.Error(msg, keyvals...) }
