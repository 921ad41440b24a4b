// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// WIRE MESSAGE
// =============================================================================

// ChatMessage is a single message in the provider wire format.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// =============================================================================
// PERSISTED MESSAGE
// =============================================================================

// Message is a persisted conversation message.
//
// User messages are shared across panels and carry no model id or panel
// index. Assistant messages are scoped to exactly one panel.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string

	// Assistant-only fields
	ModelID    *string
	PanelIndex *int

	// Optional accounting (assistant messages)
	PromptTokens     *int
	CompletionTokens *int
	LatencyMs        *int64
	Cost             *float64

	CreatedAt time.Time
}

// IsUser reports whether this is a shared user message.
func (m *Message) IsUser() bool {
	return m.Role == RoleUser
}
