// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for minigem.
//
// Configuration is TOML, with defaults, environment overrides and validation.
// User preferences that change during a chat (model, thinking tiers,
// temperature) are not stored here; they live in the persisted settings.
//
// # Configuration Precedence
//
//   - Environment variables (MINIGEM_*)
//   - ~/.minigem/config.toml (or the path in MINIGEM_CONFIG)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	w, err := config.Watch(path, logger, func(c *config.Config) { ... })
package config
