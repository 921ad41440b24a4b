// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations, messages, usage logs and presets
// in a local SQLite database.
//
// # Key Types
//
//   - Store: the database handle. SQLite only supports one writer at a
//     time, so the pool is limited to a single connection and all access
//     goes through it.
//
// Persistence failures are reported to callers but never abort a running
// exchange; the orchestrator logs and continues.
package storage
