// Package nexus is the client for the Nexus Mods API: legacy typed
// per-resource lookups (v1) and the filterable bulk query endpoint (v2).
package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nexus: status %d for %s", e.Code, e.Path)
}

// Transient reports whether the failure is worth retrying: rate limits
// and server-side errors are, everything else is structural.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsTransient reports whether err is a retryable upstream failure.
func IsTransient(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Transient()
}

const defaultBaseURL = "https://api.nexusmods.com"

// Client talks to the Nexus Mods API.
type Client struct {
	client  HTTPClient
	apiKey  string
	baseURL string
	retries uint64
}

// New creates a Client authenticated with the given API key.
func New(client HTTPClient, apiKey string) *Client {
	return &Client{
		client:  client,
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		retries: 2,
	}
}

// SetBaseURL overrides the API host (useful for testing).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Game looks up a game by its domain name.
func (c *Client) Game(ctx context.Context, domain string) (*Game, error) {
	var g Game
	if err := c.get(ctx, "/v1/games/"+domain+".json", &g); err != nil {
		return nil, fmt.Errorf("game %s: %w", domain, err)
	}
	return &g, nil
}

// Mod looks up a single mod by game domain and mod id.
func (c *Client) Mod(ctx context.Context, domain, modID string) (*Mod, error) {
	var m Mod
	if err := c.get(ctx, "/v1/games/"+domain+"/mods/"+modID+".json", &m); err != nil {
		return nil, fmt.Errorf("mod %s/%s: %w", domain, modID, err)
	}
	if m.GameDomain == "" {
		m.GameDomain = domain
	}
	return &m, nil
}

// ModFiles returns the file list of a mod, newest upload last.
func (c *Client) ModFiles(ctx context.Context, domain, modID string) ([]ModFile, error) {
	var resp struct {
		Files []ModFile `json:"files"`
	}
	if err := c.get(ctx, "/v1/games/"+domain+"/mods/"+modID+"/files.json", &resp); err != nil {
		return nil, fmt.Errorf("mod files %s/%s: %w", domain, modID, err)
	}
	return resp.Files, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

// do issues one API request with bounded backoff on transient failures.
// Structural failures (4xx other than 429, malformed bodies) surface
// immediately.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	backoff := retry.WithMaxRetries(c.retries, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.doOnce(ctx, method, path, body, out)
		if err != nil && IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Path: path}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response for %s: %w", path, err)
	}
	return nil
}
