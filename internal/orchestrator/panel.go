// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"github.com/dotnetfactory/model-faceoff/internal/model"
)

// PanelCount is the fixed number of side-by-side response panels.
const PanelCount = 3

// =============================================================================
// PANEL
// =============================================================================

// Panel is one response slot. Mutated only by the Orchestrator; History is
// append-only except on Clear.
type Panel struct {
	Index int

	// ModelID is the selected model; empty means the panel sits out.
	ModelID string

	// History is the accumulated conversation as sent to the provider.
	History []model.ChatMessage

	// Buffer accumulates partial content while a stream is in flight.
	Buffer    string
	Streaming bool

	// Last completed exchange accounting.
	LastUsage     *model.Usage
	LastLatencyMs int64
	LastCost      *float64
	LastErr       string
}

// HasModel reports whether the panel participates in dispatch.
func (p *Panel) HasModel() bool {
	return p.ModelID != ""
}

// reset returns the panel to its initial state, keeping the model selection.
func (p *Panel) reset() {
	p.History = nil
	p.Buffer = ""
	p.Streaming = false
	p.LastUsage = nil
	p.LastLatencyMs = 0
	p.LastCost = nil
	p.LastErr = ""
}

// beginStream prepares the panel for a freshly dispatched stream.
func (p *Panel) beginStream() {
	p.Buffer = ""
	p.Streaming = true
	p.LastUsage = nil
	p.LastLatencyMs = 0
	p.LastCost = nil
	p.LastErr = ""
}
