package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// curatedModels is appended when the upstream listings are empty or
// unreachable, so the picker is never blank.
var curatedModels = []Model{
	{ID: "openai/gpt-4o-mini", OwnedBy: "openai"},
	{ID: "openai/gpt-4o", OwnedBy: "openai"},
	{ID: "anthropic/claude-sonnet-4", OwnedBy: "anthropic"},
	{ID: "meta-llama/llama-3.3-70b-instruct", OwnedBy: "meta"},
	{ID: "google/gemini-2.0-flash", OwnedBy: "google"},
}

// modelCache memoizes listings per (api key, base URL) for the process
// lifetime. Upstream catalogs change rarely enough that staleness is an
// acceptable trade for not hammering two endpoints on every picker open.
var modelCache = struct {
	mu      sync.Mutex
	entries map[string][]Model
}{entries: make(map[string][]Model)}

// ListModels implements Gateway. Both provider paths are queried, the
// results merged and deduplicated by id, and the curated fallback list
// appended when nothing usable came back.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	cacheKey := c.apiKey + "|" + c.baseURL

	modelCache.mu.Lock()
	if cached, ok := modelCache.entries[cacheKey]; ok {
		modelCache.mu.Unlock()
		return cached, nil
	}
	modelCache.mu.Unlock()

	var merged []Model
	seen := make(map[string]bool)
	for _, prefix := range []string{primaryPrefix, fallbackPrefix} {
		models, err := c.fetchModels(ctx, c.baseURL+prefix+"/models")
		if err != nil {
			c.logger.Debug("model listing failed", "prefix", prefix, "error", err)
			continue
		}
		for _, m := range models {
			if m.ID == "" || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}

	if len(merged) == 0 {
		for _, m := range curatedModels {
			if !seen[m.ID] {
				merged = append(merged, m)
			}
		}
	}

	modelCache.mu.Lock()
	modelCache.entries[cacheKey] = merged
	modelCache.mu.Unlock()

	return merged, nil
}

func (c *Client) fetchModels(ctx context.Context, url string) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &GatewayError{Status: resp.StatusCode, Message: "model listing failed"}
	}

	var listing struct {
		Data []Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, err
	}
	return listing.Data, nil
}

// resetModelCache clears the cache. Test hook.
func resetModelCache() {
	modelCache.mu.Lock()
	modelCache.entries = make(map[string][]Model)
	modelCache.mu.Unlock()
}
