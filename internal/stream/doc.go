// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream tracks in-flight completions and turns decoded provider
// chunks into addressed events.
//
// # Key Types
//
//   - Registry: owns one cancel handle per active stream and a single
//     outbound event channel consumed by the orchestrator.
//
// # Usage
//
//	reg := stream.NewRegistry(client, cache)
//	if err := reg.Start(ctx, id, modelID, messages); err != nil { ... }
//	for ev := range reg.Events() { ... }
//
// Each started stream emits zero or more partial events followed by exactly
// one terminal event, unless the stream is stopped first. Stopping a stream
// wins over any in-flight terminal: late events for a stopped id are dropped.
package stream
