// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Builds the store and its collaborators from the configuration.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/minigem/internal/blob"
	"github.com/jeranaias/minigem/internal/chat"
	"github.com/jeranaias/minigem/internal/config"
	"github.com/jeranaias/minigem/internal/gemini"
	"github.com/jeranaias/minigem/internal/genai"
	"github.com/jeranaias/minigem/internal/logging"
	"github.com/jeranaias/minigem/internal/openaicompat"
	"github.com/jeranaias/minigem/internal/storage"
)

// APIKeyEnv is read when no key has been saved with "minigem setup".
const APIKeyEnv = "GEMINI_API_KEY"

// App bundles the opened store and everything it depends on.
type App struct {
	Config     *config.Config
	ConfigPath string
	Log        *logging.Logger
	Store      *chat.Store
	Blobs      *blob.Store

	closers []io.Closer
}

// openConfig loads the configuration and the logger.
func openConfig() (*config.Config, string, *logging.Logger, io.Closer, error) {
	path := configPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, "", nil, nil, err
		}
		path = p
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, "", nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, closer, err := logging.Open(cfg.Logging.File, level)
	if err != nil {
		return nil, "", nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return cfg, path, logger, closer, nil
}

// OpenApp opens storage, blobs and the generation client.
func OpenApp(ctx context.Context) (*App, error) {
	cfg, path, logger, logCloser, err := openConfig()
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, ConfigPath: path, Log: logger, closers: []io.Closer{logCloser}}

	kv, err := openKV(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	adapter := storage.NewAdapter(kv, storage.WithLogger(logger.Logger))
	app.closers = append(app.closers, adapter)

	blobs, err := blob.Open(ctx, filepath.Join(cfg.DataDir, "files.db"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open attachment store: %w", err)
	}
	app.Blobs = blobs
	app.closers = append(app.closers, blobs)

	store, err := chat.New(ctx, chat.Options{
		Persister: adapter,
		Blobs:     blobs,
		Client:    newClient(cfg, logger.Logger),
		Logger:    logger.Logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	if key := os.Getenv(APIKeyEnv); key != "" && store.Snapshot().Settings.APIKey == "" {
		if err := store.SetAPIKey(ctx, key); err != nil {
			logger.Warn("failed to store API key from environment", "error", err)
		}
	}

	logger.Debug("minigem started", "config", path, "data_dir", cfg.DataDir,
		"storage", cfg.Storage.Backend, "backend", cfg.Generation.Backend)
	return app, nil
}

func openKV(ctx context.Context, cfg *config.Config) (storage.KV, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		return storage.OpenSQLiteKV(ctx, filepath.Join(cfg.DataDir, "minigem.db"))
	default:
		return storage.NewFileKV(filepath.Join(cfg.DataDir, "data"))
	}
}

// newClient picks the generation backend.
func newClient(cfg *config.Config, logger *slog.Logger) genai.Client {
	timeout := time.Duration(cfg.Generation.TimeoutSecs) * time.Second
	if cfg.Generation.Backend == config.BackendOpenAI {
		return openaicompat.New(
			openaicompat.WithBaseURL(cfg.Generation.OpenAIBaseURL),
			openaicompat.WithTimeout(timeout),
			openaicompat.WithMaxRetries(cfg.Generation.MaxRetries),
			openaicompat.WithLogger(logger),
		)
	}
	return gemini.New(
		gemini.WithBaseURL(cfg.Generation.BaseURL),
		gemini.WithTimeout(timeout),
		gemini.WithMaxRetries(cfg.Generation.MaxRetries),
		gemini.WithInlineLimit(int64(cfg.Generation.InlineLimitMB)*1024*1024),
		gemini.WithLogger(logger),
	)
}

// Close shuts the store down and releases storage in reverse order.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// requireAPIKey fails early with setup instructions.
func (a *App) requireAPIKey() error {
	if a.Store.Snapshot().Settings.APIKey == "" {
		return fmt.Errorf("no API key configured: run \"minigem setup\" or set %s", APIKeyEnv)
	}
	return nil
}
