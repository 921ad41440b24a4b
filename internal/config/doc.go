// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and credential management
// for faceoff.
//
// Configuration lives in a TOML file at ~/.faceoff/config.toml, with
// environment variable overrides applied on top and built-in defaults
// underneath. The Provider type keeps a live view of the file: an fsnotify
// watcher reloads it on change so an API key added mid-session takes
// effect without a restart. A missing key is not an error; it selects
// free mode, which restricts dispatch to free-tier models.
package config
