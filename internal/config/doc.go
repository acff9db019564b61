// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigrun-chat.
//
// # Configuration Precedence
//
// Configuration is loaded from (highest precedence first):
//   - Command-line flags (applied by the cli package)
//   - Environment variables (RIGRUN_CHAT_*, OLLAMA_HOST)
//   - A .env file in the working directory
//   - ~/.rigrun-chat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.HealthCheckTimeout()
//
// Watch reloads the file when it changes and hands the new Config to a
// callback; the chat UI uses it to retune timeouts without a restart.
package config
