// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the chat-completion client for the upstream
// model gateway.
//
// The gateway exposes many models behind one OpenAI-style API. This package
// covers the three calls the orchestration layer needs: streaming chat
// completions (decoded incrementally into chunks), a constrained
// non-streaming completion used for title generation, and the models listing
// with per-token pricing, cached with a TTL per credential mode.
//
// # Key Types
//
//   - Client: HTTP client with rate limiting and shared connection pools
//   - StreamChunk: one decoded unit of the incremental response
//   - UpstreamError: non-success transport response with status and body
//   - ModelCache: TTL cache of the models list, keyed by credential mode
//
// # Usage
//
//	client := provider.NewClient(apiKey)
//	chunks, err := client.StreamCompletion(ctx, "acme/fast", history)
//	if err != nil { ... }
//	for chunk := range chunks {
//	    ...
//	}
//
// # Credential policy
//
// A credential is optional. Without one, only free-tier models (":free" id
// suffix or zero listed prices) may be dispatched; the check happens before
// any network call.
package provider
