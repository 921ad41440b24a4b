// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the faceoff terminal interface: three side-by-side
// response panels, a shared prompt input, a model picker and a history
// browser.
//
// The UI is presentation only. Chunk events from the stream registry are
// forwarded into the Bubble Tea program by a single goroutine (see
// Forward), which preserves per-stream order; all routing, exactly-once
// and title logic lives in the orchestrator.
package ui
