// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is a saved multi-panel exchange. ModelIDs records, in panel
// order, which model each panel had selected when the conversation was
// created; replay relies on this ordering staying stable across turns.
type Conversation struct {
	ID       string
	Title    *string
	ModelIDs []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasTitle reports whether a title has been set, automatically or manually.
func (c *Conversation) HasTitle() bool {
	return c.Title != nil && *c.Title != ""
}

// DisplayTitle returns the title, or a placeholder for untitled conversations.
func (c *Conversation) DisplayTitle() string {
	if c.HasTitle() {
		return *c.Title
	}
	return "Untitled"
}

// =============================================================================
// API LOG
// =============================================================================

// APILog is one persisted record of a completed or failed provider call.
type APILog struct {
	ID               int64
	ModelID          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int64
	Cost             *float64
	Status           string
	ErrorMessage     *string
	CreatedAt        time.Time
}

// API log status values.
const (
	APIStatusSuccess = "success"
	APIStatusError   = "error"
)

// =============================================================================
// PRESET
// =============================================================================

// Preset is a saved panel/model selection.
type Preset struct {
	ID        int64
	Name      string
	ModelIDs  []string
	CreatedAt time.Time
}
