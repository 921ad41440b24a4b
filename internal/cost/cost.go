// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cost computes the dollar cost of completed streams.
//
// The computation is advisory: it never fails and never blocks completion
// handling. When neither an authoritative provider cost nor a known price is
// available the result is nil, and callers omit cost from persisted records
// rather than coercing it to zero.
package cost

import (
	"strconv"

	"github.com/dotnetfactory/model-faceoff/internal/model"
)

// tokensPerPriceUnit converts per-million-token prices to per-token costs.
const tokensPerPriceUnit = 1_000_000

// =============================================================================
// MODEL PRICING
// =============================================================================

// ModelPrices holds per-million-token prices for one model, in dollars.
type ModelPrices struct {
	PromptPerM     float64
	CompletionPerM float64
}

// Table maps model ids to their known prices. Zero-valued entries are valid
// and describe free models.
type Table map[string]ModelPrices

// Lookup returns the prices for a model id, or nil when unknown.
func (t Table) Lookup(modelID string) *ModelPrices {
	if t == nil {
		return nil
	}
	if p, ok := t[modelID]; ok {
		return &p
	}
	return nil
}

// ParsePerToken converts a provider per-token price string (e.g. "0.000001")
// into a per-million-token dollar price. Unparseable strings yield 0.
func ParsePerToken(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v * tokensPerPriceUnit
}

// =============================================================================
// COST COMPUTATION
// =============================================================================

// Compute determines the cost of one completed stream.
//
// Preference order: the provider's authoritative cost when present, then an
// estimate from the model's per-million-token prices, then nil (undefined).
func Compute(usage *model.Usage, prices *ModelPrices) *float64 {
	if usage == nil {
		return nil
	}
	if usage.Cost != nil {
		c := *usage.Cost
		return &c
	}
	if prices == nil {
		return nil
	}

	c := float64(usage.PromptTokens)/tokensPerPriceUnit*prices.PromptPerM +
		float64(usage.CompletionTokens)/tokensPerPriceUnit*prices.CompletionPerM
	return &c
}

// IsFree reports whether the listed prices describe a free model.
func (p ModelPrices) IsFree() bool {
	return p.PromptPerM == 0 && p.CompletionPerM == 0
}
