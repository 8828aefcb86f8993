// Package rest implements engine.Client over the retrieval engine's HTTP/JSON
// API. It is a minimal REST client: request encoding, API-key header, status
// checking, and response decoding. No retry or failure classification happens
// here; the gateway owns that.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clafollett/codetriever/internal/engine"
)

// Client talks to the retrieval engine over HTTP. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Config holds the connection settings for the engine endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout caps a single HTTP exchange at the transport level. The
	// per-request context deadline is usually tighter.
	Timeout time.Duration
}

// New constructs a Client. A zero Timeout defaults to 30s.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// SubmitIndex implements engine.Client.
func (c *Client) SubmitIndex(ctx context.Context, req engine.IndexRequest) (*engine.IndexAccepted, error) {
	var out engine.IndexAccepted
	if err := c.postJSON(ctx, "/v1/index/jobs", req, &out); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		return nil, &engine.DecodeError{Err: fmt.Errorf("index acknowledgement missing job_id")}
	}
	return &out, nil
}

// Search implements engine.Client.
func (c *Client) Search(ctx context.Context, req engine.SearchRequest) ([]engine.Match, error) {
	var out struct {
		Matches []engine.Match `json:"matches"`
	}
	if err := c.postJSON(ctx, "/v1/search", req, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// JobStatus implements engine.Client.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*engine.JobStatus, error) {
	var out engine.JobStatus
	if err := c.getJSON(ctx, "/v1/index/jobs/"+url.PathEscape(jobID), &out); err != nil {
		return nil, err
	}
	switch out.State {
	case "queued", "running", "completed", "failed":
	default:
		return nil, &engine.DecodeError{Err: fmt.Errorf("unknown job state %q", out.State)}
	}
	return &out, nil
}

// postJSON encodes body, POSTs it, and decodes the 2xx response into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// getJSON GETs path and decodes the 2xx response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// do executes the request. Non-2xx statuses become *engine.StatusError with a
// truncated body excerpt; undecodable 2xx bodies become *engine.DecodeError.
func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &engine.StatusError{Code: resp.StatusCode, Detail: bodyExcerpt(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &engine.DecodeError{Err: err}
	}
	return nil
}

// bodyExcerpt reads at most 512 bytes of an error body for diagnostics.
func bodyExcerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
