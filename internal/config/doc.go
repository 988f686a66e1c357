// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for innerguide.
//
// Supports TOML (preferred) and JSON configuration files, with sensible
// defaults, .env files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - InferenceConfig: Chat endpoint URL, credential and throttle
//   - SessionConfig: Injected user identity
//   - StorageConfig: Persistence gateway driver selection
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (INNERGUIDE_*)
//   - .env in the working directory, then in the config directory
//   - ~/.innerguide/config.toml (INNERGUIDE_HOME overrides the directory)
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//
// Reload on change:
//
//	go config.Watch(ctx, path, 0, func(cfg *config.Config, err error) { ... })
package config
