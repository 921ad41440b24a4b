// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dotnetfactory/model-faceoff/internal/model"
)

// Streaming protocol markers.
const (
	// eventPrefix marks a payload-carrying line in the incremental response.
	eventPrefix = "data: "

	// doneSentinel is the literal payload that ends a stream normally.
	doneSentinel = "[DONE]"

	// chunkBuffer is the channel capacity for decoded chunks.
	chunkBuffer = 64
)

// =============================================================================
// STREAM CHUNK
// =============================================================================

// StreamChunk is a single decoded unit of the incremental response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
		Index        int    `json:"index"`
	} `json:"choices"`
	Usage *model.Usage `json:"usage,omitempty"`

	// Err carries transport failures that occur mid-stream. A chunk with
	// Err set is the last chunk delivered.
	Err error `json:"-"`
}

// GetContent returns the content fragment from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// IsDone reports whether the provider marked this chunk as final.
func (c *StreamChunk) IsDone() bool {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason != ""
	}
	return false
}

// =============================================================================
// STREAMING COMPLETION
// =============================================================================

// StreamCompletion issues one streaming chat completion request and decodes
// the response into a finite, non-restartable sequence of chunks.
//
// A non-success transport response fails synchronously with *UpstreamError
// and yields no chunks. Otherwise the returned channel delivers content
// fragments in receipt order and is closed on the end-of-stream sentinel,
// cancellation, or end of input. Malformed payload lines are skipped; the
// stream continues. The response body is released on every exit path.
func (c *Client) StreamCompletion(ctx context.Context, modelID string, messages []model.ChatMessage) (<-chan StreamChunk, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := ChatRequest{
		Model:         modelID,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &StreamOptions{IncludeUsage: true},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	chunks := make(chan StreamChunk, chunkBuffer)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		decodeStream(ctx, resp.Body, chunks)
	}()

	return chunks, nil
}

// decodeStream reads the incremental response line by line, buffering
// partial lines across reads, and emits decoded chunks until the done
// sentinel, cancellation, or end of input.
func decodeStream(ctx context.Context, body io.Reader, chunks chan<- StreamChunk) {
	reader := bufio.NewReader(body)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// A final unterminated line may still carry a payload.
				if chunk, ok := parseEventLine(line); ok {
					deliver(ctx, chunks, chunk)
				}
				return
			}
			deliver(ctx, chunks, StreamChunk{Err: fmt.Errorf("read error: %w", err)})
			return
		}

		chunk, ok := parseEventLine(line)
		if !ok {
			// Blank line, comment, unknown field, sentinel, or a
			// malformed payload. Only the sentinel ends the stream.
			if isDoneLine(line) {
				return
			}
			continue
		}

		if !deliver(ctx, chunks, chunk) {
			return
		}
	}
}

// parseEventLine decodes a single line into a chunk. It returns false for
// lines that carry no payload and for payloads that fail to parse.
func parseEventLine(line string) (StreamChunk, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, eventPrefix) {
		return StreamChunk{}, false
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
	if data == "" || data == doneSentinel {
		return StreamChunk{}, false
	}

	var chunk StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// Malformed payload: skip, don't fail the stream.
		return StreamChunk{}, false
	}
	return chunk, true
}

// isDoneLine reports whether the line is the end-of-stream sentinel.
func isDoneLine(line string) bool {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, eventPrefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, eventPrefix)) == doneSentinel
}

// deliver sends a chunk unless the context has been cancelled. Returns
// false when the consumer is gone.
func deliver(ctx context.Context, chunks chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
