// Package rerank is the HTTP client for the external rerank service.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultModel is the rerank model used when the config leaves it unset.
const DefaultModel = "rerank-v3.5"

// Request is the /v2/rerank call body.
type Request struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// Result is one ranked document reference. Index points back into the
// request's Documents slice.
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Response is the /v2/rerank call result.
type Response struct {
	Results []Result `json:"results"`
}

// Client calls the rerank endpoint with bearer authorization.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a rerank client for baseURL (e.g. "https://api.cohere.com").
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 80 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &bearerTokenTransport{
				base:  http.DefaultTransport,
				token: apiKey,
			},
		},
	}
}

// Rerank scores documents against the query and returns the service's
// ranked results.
func (c *Client) Rerank(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = DefaultModel
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank returned %d: %s", resp.StatusCode, snippet)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	return &out, nil
}

// bearerTokenTransport adds the Authorization header to every request.
type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
