// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator fans one prompt out to every panel with a selected
// model and merges the resulting chunk events back into per-panel state.
//
// # Key Types
//
//   - Orchestrator: the fan-out controller. Owns the stream-id routing
//     table, the seen-id guard for exactly-once completion side effects,
//     and the first-exchange title bookkeeping.
//   - Panel: one of the fixed slots, holding a model selection, message
//     history and transient streaming state.
//
// # Usage
//
//	orch := orchestrator.New(streams, store, titler, prices, titleModel)
//	orch.SetPanelModel(0, "acme/fast")
//	if err := orch.Submit(ctx, "Hello"); err != nil { ... }
//	for ev := range events {
//		orch.HandleEvent(ev)
//	}
//
// All methods must be called from a single goroutine; the seen-id guard is
// a plain check-and-insert and would need an atomic compare-and-swap if
// events were ever handled concurrently.
package orchestrator
