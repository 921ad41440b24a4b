// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared across the faceoff
// orchestration layers.
//
// # Key Types
//
//   - ChatMessage: role/content pair in the provider wire format
//   - Usage: token counts and optional authoritative cost for one completion
//   - ChunkEvent: one addressed unit of stream output (partial, terminal, error)
//   - Conversation: a saved multi-panel exchange with its ordered model list
//   - Message: a persisted user or assistant message, panel-scoped for assistants
//
// # Usage
//
// Build message history for a dispatch:
//
//	history := []model.ChatMessage{
//	    model.NewUserMessage("Compare yourselves."),
//	}
//
// Inspect a terminal chunk event:
//
//	if ev.Done && ev.Usage != nil {
//	    fmt.Printf("%d tokens in %dms\n", ev.Usage.TotalTokens, ev.LatencyMs)
//	}
package model
