// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cost

import (
	"math"
	"testing"

	"github.com/dotnetfactory/model-faceoff/internal/model"
)

func TestCompute_AuthoritativeCostWins(t *testing.T) {
	authoritative := 0.0042
	usage := &model.Usage{
		PromptTokens:     1000,
		CompletionTokens: 1000,
		Cost:             &authoritative,
	}
	prices := &ModelPrices{PromptPerM: 100, CompletionPerM: 100}

	got := Compute(usage, prices)
	if got == nil {
		t.Fatal("expected a cost, got nil")
	}
	if *got != authoritative {
		t.Errorf("Compute = %v, want authoritative %v", *got, authoritative)
	}
}

func TestCompute_EstimateFromPrices(t *testing.T) {
	// Prices $1.00/M prompt, $2.00/M completion; 10 prompt + 2 completion
	// tokens cost 0.000014.
	usage := &model.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}
	prices := &ModelPrices{PromptPerM: 1.00, CompletionPerM: 2.00}

	got := Compute(usage, prices)
	if got == nil {
		t.Fatal("expected a cost, got nil")
	}
	if math.Abs(*got-0.000014) > 1e-12 {
		t.Errorf("Compute = %v, want 0.000014", *got)
	}
}

func TestCompute_UndefinedWhenNoPrices(t *testing.T) {
	usage := &model.Usage{PromptTokens: 10, CompletionTokens: 2}

	if got := Compute(usage, nil); got != nil {
		t.Errorf("Compute with unknown prices = %v, want nil", *got)
	}
	if got := Compute(nil, &ModelPrices{PromptPerM: 1}); got != nil {
		t.Errorf("Compute with nil usage = %v, want nil", *got)
	}
}

func TestParsePerToken(t *testing.T) {
	if got := ParsePerToken("0.000001"); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("ParsePerToken(0.000001) = %v, want 1.0", got)
	}
	if got := ParsePerToken("garbage"); got != 0 {
		t.Errorf("ParsePerToken(garbage) = %v, want 0", got)
	}
}

func TestTableLookup(t *testing.T) {
	tbl := Table{"acme/fast": {PromptPerM: 0.5, CompletionPerM: 1.5}}

	if p := tbl.Lookup("acme/fast"); p == nil || p.PromptPerM != 0.5 {
		t.Errorf("Lookup known model = %+v", p)
	}
	if p := tbl.Lookup("acme/unknown"); p != nil {
		t.Errorf("Lookup unknown model = %+v, want nil", p)
	}
	if p := Table(nil).Lookup("x"); p != nil {
		t.Errorf("Lookup on nil table = %+v, want nil", p)
	}
}
