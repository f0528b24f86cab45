// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for casedesk.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation, and hot reload.
//
// # Key Types
//
//   - Config: main configuration structure
//   - FunctionsConfig: function gateway URL, key, dialect overrides
//   - ProvidersConfig: upstream model providers and their keys
//   - ServerConfig: listen address, auth, CORS and rate limits
//   - TasksConfig: background task expiry and concurrency
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CASEDESK_*)
//   - ~/.casedesk/config.toml
//   - ~/.casedesk/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	go config.Watch(ctx, path, 0, func(next *config.Config) {
//	    config.SetGlobal(next)
//	})
package config
