// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// USAGE
// =============================================================================

// Usage holds token accounting for one completed stream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Native-billing token counts, when the provider reports them
	// separately from the normalized counts.
	NativePromptTokens     int `json:"native_prompt_tokens,omitempty"`
	NativeCompletionTokens int `json:"native_completion_tokens,omitempty"`

	// Cost is the provider's authoritative cost for the call, when supplied.
	// Nil means the provider reported none and cost must be estimated or
	// omitted entirely.
	Cost *float64 `json:"cost,omitempty"`
}

// =============================================================================
// CHUNK EVENT
// =============================================================================

// ChunkEvent is one addressed unit of decoded stream output, delivered from
// the streaming layer to the orchestrator. Exactly one event per stream has
// Done set or Err non-empty; that event is the stream's terminal event.
type ChunkEvent struct {
	StreamID string

	// Content is the incremental fragment for partial events; empty on
	// terminal and error events.
	Content string

	// Done marks successful completion. FullContent, Usage and LatencyMs
	// are only meaningful when Done is true.
	Done        bool
	FullContent string
	Usage       *Usage
	LatencyMs   int64

	// Err is the error description for a failed stream. A non-empty Err is
	// terminal; Done is false in that case.
	Err string
}

// IsTerminal reports whether this event ends its stream.
func (e ChunkEvent) IsTerminal() bool {
	return e.Done || e.Err != ""
}
