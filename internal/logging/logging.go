// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the structured loggers used across minigem.
//
// Components take a *slog.Logger. The handler behind it is a charmbracelet
// logger so terminal output is colored and leveled, and the level can be
// changed at runtime when the config file is reloaded.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Prefix is printed before every log line.
const Prefix = "minigem"

// Logger pairs a slog front-end with the handler so the level can be adjusted.
type Logger struct {
	*slog.Logger
	handler *charmlog.Logger
}

// New creates a logger writing to w at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func New(w io.Writer, level string) *Logger {
	h := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          Prefix,
		Level:           ParseLevel(level),
	})
	return &Logger{Logger: slog.New(h), handler: h}
}

// Open creates a logger appending to path, or to stderr when path is empty.
// The returned closer must be called on shutdown.
func Open(path, level string) (*Logger, io.Closer, error) {
	if path == "" {
		return New(os.Stderr, level), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, err
	}
	return New(f, level), f, nil
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level string) {
	l.handler.SetLevel(ParseLevel(level))
}

// Level reports the current minimum level.
func (l *Logger) Level() string {
	return l.handler.GetLevel().String()
}

// ParseLevel converts a level name, defaulting to info.
func ParseLevel(level string) charmlog.Level {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return charmlog.InfoLevel
	}
	return lvl
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
