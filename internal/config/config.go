// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete minigem configuration.
type Config struct {
	// DataDir holds chats, settings and attachment blobs. Defaults to ConfigDir.
	DataDir string `toml:"data_dir"`

	Storage    StorageConfig    `toml:"storage"`
	Generation GenerationConfig `toml:"generation"`
	Logging    LoggingConfig    `toml:"logging"`
	Files      FilesConfig      `toml:"files"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "file" (one JSON file per key) or "sqlite".
	Backend string `toml:"backend"`
}

// GenerationConfig controls how requests reach the model API.
type GenerationConfig struct {
	// Backend is "gemini" (native REST) or "openai" (OpenAI-compatible endpoint).
	Backend       string `toml:"backend"`
	BaseURL       string `toml:"base_url"`
	OpenAIBaseURL string `toml:"openai_base_url"`
	TimeoutSecs   int    `toml:"timeout_secs"`

	// MaxRetries applies to connection-level failures before a stream starts.
	MaxRetries int `toml:"max_retries"`

	// InlineLimitMB is the largest image sent inline instead of uploaded.
	InlineLimitMB int `toml:"inline_limit_mb"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `toml:"level"`
	// File is the log destination; empty logs to DataDir/minigem.log.
	File string `toml:"file"`
}

// FilesConfig controls attachment blob retention.
type FilesConfig struct {
	MaxAgeDays int `toml:"max_age_days"`
}

// Backend names.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"

	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// Defaults.
const (
	DefaultBaseURL       = "https://generativelanguage.googleapis.com/v1beta"
	DefaultOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultTimeoutSecs   = 300
	DefaultInlineLimitMB = 10
	DefaultMaxAgeDays    = 30
	DefaultLogLevel      = "info"
)

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: StorageFile},
		Generation: GenerationConfig{
			Backend:       BackendGemini,
			BaseURL:       DefaultBaseURL,
			OpenAIBaseURL: DefaultOpenAIBaseURL,
			TimeoutSecs:   DefaultTimeoutSecs,
			InlineLimitMB: DefaultInlineLimitMB,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
		Files:   FilesConfig{MaxAgeDays: DefaultMaxAgeDays},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the minigem configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".minigem"), nil
}

// ConfigPath returns the config file path, honoring MINIGEM_CONFIG.
func ConfigPath() (string, error) {
	if p := os.Getenv("MINIGEM_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens config files to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default path. A missing file yields the
// defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from path with defaults, environment
// overrides and validation. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return ValidationError{Field: keys[0], Message: "unknown configuration key(s): " + strings.Join(keys, ", ")}
	}
	return nil
}

// fillDefaults replaces zero values and resolves the data directory.
func fillDefaults(cfg *Config) error {
	def := Default()
	if cfg.DataDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		cfg.DataDir = dir
	}
	if strings.HasPrefix(cfg.DataDir, "~"+string(filepath.Separator)) || cfg.DataDir == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not expand data_dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, strings.TrimPrefix(cfg.DataDir, "~"))
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = def.Storage.Backend
	}
	if cfg.Generation.Backend == "" {
		cfg.Generation.Backend = def.Generation.Backend
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = def.Generation.BaseURL
	}
	if cfg.Generation.OpenAIBaseURL == "" {
		cfg.Generation.OpenAIBaseURL = def.Generation.OpenAIBaseURL
	}
	if cfg.Generation.TimeoutSecs == 0 {
		cfg.Generation.TimeoutSecs = def.Generation.TimeoutSecs
	}
	if cfg.Generation.InlineLimitMB == 0 {
		cfg.Generation.InlineLimitMB = def.Generation.InlineLimitMB
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "minigem.log")
	}
	if cfg.Files.MaxAgeDays == 0 {
		cfg.Files.MaxAgeDays = def.Files.MaxAgeDays
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# minigem configuration file")
	fmt.Fprintln(file, "# The API key and chat preferences are stored separately under data_dir.")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch c.Storage.Backend {
	case StorageFile, StorageSQLite:
	default:
		errs = append(errs, ValidationError{"storage.backend", fmt.Sprintf("must be %q or %q", StorageFile, StorageSQLite)})
	}

	switch c.Generation.Backend {
	case BackendGemini, BackendOpenAI:
	default:
		errs = append(errs, ValidationError{"generation.backend", fmt.Sprintf("must be %q or %q", BackendGemini, BackendOpenAI)})
	}

	for field, raw := range map[string]string{
		"generation.base_url":        c.Generation.BaseURL,
		"generation.openai_base_url": c.Generation.OpenAIBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{field, "must be an absolute http(s) URL"})
		}
	}

	if c.Generation.TimeoutSecs < 0 || c.Generation.TimeoutSecs > 3600 {
		errs = append(errs, ValidationError{"generation.timeout_secs", "must be between 0 and 3600"})
	}
	if c.Generation.MaxRetries < 0 || c.Generation.MaxRetries > 10 {
		errs = append(errs, ValidationError{"generation.max_retries", "must be between 0 and 10"})
	}
	if c.Generation.InlineLimitMB < 1 || c.Generation.InlineLimitMB > 20 {
		errs = append(errs, ValidationError{"generation.inline_limit_mb", "must be between 1 and 20"})
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"logging.level", "must be debug, info, warn or error"})
	}

	if c.Files.MaxAgeDays < 1 {
		errs = append(errs, ValidationError{"files.max_age_days", "must be at least 1"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - MINIGEM_DATA_DIR: overrides data_dir
//   - MINIGEM_STORAGE: overrides storage.backend
//   - MINIGEM_BACKEND: overrides generation.backend
//   - MINIGEM_BASE_URL: overrides generation.base_url
//   - MINIGEM_MAX_RETRIES: overrides generation.max_retries
//   - MINIGEM_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MINIGEM_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MINIGEM_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("MINIGEM_BACKEND"); v != "" {
		c.Generation.Backend = v
	}
	if v := os.Getenv("MINIGEM_BASE_URL"); v != "" {
		c.Generation.BaseURL = v
	}
	if v := os.Getenv("MINIGEM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Generation.MaxRetries = n
		}
	}
	if v := os.Getenv("MINIGEM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return fmt.Sprintf("error encoding config: %v", err)
	}
	return b.String()
}
