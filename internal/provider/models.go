// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dotnetfactory/model-faceoff/internal/cost"
)

// freeModelSuffix marks free-tier model ids by convention.
const freeModelSuffix = ":free"

// DefaultModelsTTL is how long a cached models list stays fresh.
const DefaultModelsTTL = 10 * time.Minute

// =============================================================================
// MODEL INFO
// =============================================================================

// Pricing holds the listed per-token prices for a model, as decimal strings.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// ModelInfo describes one available model.
type ModelInfo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ContextLength int     `json:"context_length"`
	Pricing       Pricing `json:"pricing"`
}

// IsFree reports whether the model may be used without a credential: either
// the id carries the free-tier suffix or both listed prices are zero.
func (m ModelInfo) IsFree() bool {
	if strings.HasSuffix(m.ID, freeModelSuffix) {
		return true
	}
	return cost.ParsePerToken(m.Pricing.Prompt) == 0 &&
		cost.ParsePerToken(m.Pricing.Completion) == 0
}

// Prices converts the listed per-token prices to a per-million table entry.
func (m ModelInfo) Prices() cost.ModelPrices {
	return cost.ModelPrices{
		PromptPerM:     cost.ParsePerToken(m.Pricing.Prompt),
		CompletionPerM: cost.ParsePerToken(m.Pricing.Completion),
	}
}

// modelsResponse is the wire structure for the models listing.
type modelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// ListModels retrieves the list of available models from the gateway.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
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

	var modelsResp modelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}
	return modelsResp.Data, nil
}

// =============================================================================
// MODELS CACHE
// =============================================================================

// ModelCache caches the models list with a TTL, keyed by credential mode so
// a free-mode listing is never reused after a key is configured. Concurrent
// misses collapse to one upstream fetch.
type ModelCache struct {
	client *Client
	ttl    time.Duration

	mu        sync.Mutex
	value     []ModelInfo
	fetchedAt time.Time
	modeKey   string

	group singleflight.Group
}

// NewModelCache creates a cache around the given client.
func NewModelCache(client *Client, ttl time.Duration) *ModelCache {
	if ttl <= 0 {
		ttl = DefaultModelsTTL
	}
	return &ModelCache{client: client, ttl: ttl}
}

// modeKey distinguishes free-mode and keyed listings.
func (mc *ModelCache) currentModeKey() string {
	if mc.client.HasCredential() {
		return "keyed:" + mc.client.KeyFingerprint()
	}
	return "free"
}

// Models returns the cached list when fresh and mode-matched, fetching
// otherwise.
func (mc *ModelCache) Models(ctx context.Context) ([]ModelInfo, error) {
	mode := mc.currentModeKey()

	mc.mu.Lock()
	if mc.value != nil && mc.modeKey == mode && time.Since(mc.fetchedAt) < mc.ttl {
		v := mc.value
		mc.mu.Unlock()
		return v, nil
	}
	mc.mu.Unlock()

	v, err, _ := mc.group.Do(mode, func() (interface{}, error) {
		models, err := mc.client.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		mc.mu.Lock()
		mc.value = models
		mc.fetchedAt = time.Now()
		mc.modeKey = mode
		mc.mu.Unlock()
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ModelInfo), nil
}

// Invalidate drops the cached value, e.g. after a credential change.
func (mc *ModelCache) Invalidate() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.value = nil
	mc.modeKey = ""
}

// Lookup finds a model by id in the cached list, fetching if needed.
func (mc *ModelCache) Lookup(ctx context.Context, modelID string) (*ModelInfo, error) {
	models, err := mc.Models(ctx)
	if err != nil {
		return nil, err
	}
	for i := range models {
		if models[i].ID == modelID {
			return &models[i], nil
		}
	}
	return nil, nil
}

// PriceTable builds a cost table from the cached models list.
func (mc *ModelCache) PriceTable(ctx context.Context) (cost.Table, error) {
	models, err := mc.Models(ctx)
	if err != nil {
		return nil, err
	}
	table := make(cost.Table, len(models))
	for _, m := range models {
		table[m.ID] = m.Prices()
	}
	return table, nil
}

// =============================================================================
// CREDENTIAL POLICY
// =============================================================================

// CheckDispatch validates the credential policy for a dispatch to modelID.
// Free mode rejects non-free models before any completion request is made.
// A model missing from the listing is treated as paid.
func (c *Client) CheckDispatch(ctx context.Context, cache *ModelCache, modelID string) error {
	if c.HasCredential() {
		return nil
	}

	// Suffix convention short-circuits without a listing.
	if strings.HasSuffix(modelID, freeModelSuffix) {
		return nil
	}

	info, err := cache.Lookup(ctx, modelID)
	if err != nil {
		return fmt.Errorf("cannot verify free-tier status: %w", err)
	}
	if info == nil || !info.IsFree() {
		return fmt.Errorf("%w: %s", ErrPaidModel, modelID)
	}
	return nil
}
