// Package collector is the HTTP client for the upstream content
// pipeline (search, export generation, sentiment scoring). The pipeline
// runs as its own service; this client only forwards already-admitted
// requests.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trendlytics/trendlytics/internal/pkg/env"
)

// Client talks to the collector service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClientFromEnv builds a client from COLLECTOR_URL, or returns nil
// when no collector is configured.
func NewClientFromEnv() *Client {
	baseURL := env.GetEnv("COLLECTOR_URL", "")
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  env.GetEnv("COLLECTOR_API_KEY", ""),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Query runs a live search.
func (c *Client) Query(ctx context.Context, userID uint, query string, limit int) (any, error) {
	return c.post(ctx, "/v1/query", map[string]any{
		"user_id": userID,
		"query":   query,
		"limit":   limit,
	})
}

// Export generates an export of search results.
func (c *Client) Export(ctx context.Context, userID uint, query, format string) (any, error) {
	return c.post(ctx, "/v1/export", map[string]any{
		"user_id": userID,
		"query":   query,
		"format":  format,
	})
}

// AnalyzeSentiment scores a batch of texts.
func (c *Client) AnalyzeSentiment(ctx context.Context, userID uint, texts []string) (any, error) {
	return c.post(ctx, "/v1/sentiment", map[string]any{
		"user_id": userID,
		"texts":   texts,
	})
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("collector: %s: status %d: %s", path, resp.StatusCode, body)
	}

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("collector: %s: decoding response: %w", path, err)
	}
	return out, nil
}
