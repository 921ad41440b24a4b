// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dotnetfactory/model-faceoff/internal/model"
)

// Configuration constants for the gateway API.
const (
	// DefaultBaseURL is the base URL of the model gateway API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the timeout for non-streaming API requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	// defaultRequestsPerSecond limits outbound request rate per client.
	defaultRequestsPerSecond = 5
)

var (
	// Shared HTTP client with connection pooling for non-streaming requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; stream lifetime is controlled
	// by the request context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// Error variables for common provider errors.
var (
	// ErrNoCredential indicates a call that requires an API key was made
	// without one configured.
	ErrNoCredential = errors.New("API key not configured")

	// ErrPaidModel indicates a dispatch to a non-free model was attempted
	// in free mode. Rejected before any network call.
	ErrPaidModel = errors.New("model requires an API key")
)

// UpstreamError is a non-success transport response, carrying the HTTP
// status and raw body for diagnosis.
type UpstreamError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, body)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatRequest is the request body for the chat completions endpoint.
type ChatRequest struct {
	Model         string              `json:"model"`
	Messages      []model.ChatMessage `json:"messages"`
	Stream        bool                `json:"stream"`
	StreamOptions *StreamOptions      `json:"stream_options,omitempty"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
}

// StreamOptions carries the usage-inclusion flag for streaming requests.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatResponse is a non-streaming chat completion response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      model.ChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage *model.Usage `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// apiErrorResponse is the gateway's structured error body.
type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client communicates with the model gateway.
type Client struct {
	apiKey  string
	baseURL string
	limiter *rate.Limiter
}

// NewClient creates a client. An empty API key is valid and puts the client
// in free mode; paid-model dispatches will be rejected pre-flight.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultBaseURL,
		limiter: rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// SetCredential swaps the API key, e.g. after a config reload.
func (c *Client) SetCredential(apiKey string) {
	c.apiKey = strings.TrimSpace(apiKey)
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key for
// logging. The key itself is never logged.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// setHeaders sets the required headers for gateway requests.
func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "faceoff/0.1.0")
}

// =============================================================================
// NON-STREAMING COMPLETION
// =============================================================================

// Complete performs a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, modelID string, messages []model.ChatMessage) (*ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := ChatRequest{
		Model:    modelID,
		Messages: messages,
		Stream:   false,
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

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &chatResp, nil
}

// titleSystemPrompt constrains the title-generation call.
const titleSystemPrompt = "Generate a concise title (at most 6 words) for a conversation " +
	"that starts with the following user message. Reply with the title only, " +
	"no quotes, no punctuation at the end."

// GenerateTitle asks a model for a short conversation title based on the
// opening prompt. The result is a single trimmed line.
func (c *Client) GenerateTitle(ctx context.Context, modelID, prompt string) (string, error) {
	resp, err := c.Complete(ctx, modelID, []model.ChatMessage{
		model.NewSystemMessage(titleSystemPrompt),
		model.NewUserMessage(prompt),
	})
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(resp.GetContent())
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.Trim(title, `"`)
	if title == "" {
		return "", errors.New("empty title from model")
	}
	return title, nil
}

// readResponse reads a response body with a size cap.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
