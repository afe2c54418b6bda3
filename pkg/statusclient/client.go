// Package statusclient is a small HTTP client for the bridge daemon's
// status API. The CLI's status subcommand uses it; it is also importable
// by external tooling that wants typed access to the daemon's snapshot.
package statusclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config configures a Client.
type Config struct {
	// ServerURL is the daemon's base URL, e.g. "http://localhost:8080".
	ServerURL string
	// Token is an optional bearer token for auth-protected routes.
	Token string
	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Client talks to one bridge daemon.
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
}

// NewClient creates a client for the daemon at config.ServerURL.
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.config.Token = token
}

// GetStatus fetches the daemon's full status snapshot.
func (c *Client) GetStatus(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if err := c.doRequest(ctx, "/api/v1/status", nil, &snap); err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return &snap, nil
}

// GetHealth fetches the daemon's liveness summary. A degraded daemon
// still returns a body; only transport-level failures error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, "/api/v1/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get health: %w", err)
	}
	return &resp, nil
}

// GetRecent fetches up to limit recently relayed messages. A limit of 0
// uses the daemon's default.
func (c *Client) GetRecent(ctx context.Context, limit int) (*RecentResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp RecentResponse
	if err := c.doRequest(ctx, "/api/v1/recent", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, path string, queryParams url.Values, respBody interface{}) error {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// The health route deliberately answers 503 with a real body when
	// the bridge is stopped; that is data, not a transport error.
	if resp.StatusCode >= 400 && !(path == "/api/v1/health" && resp.StatusCode == http.StatusServiceUnavailable) {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(bodyBytes))
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error)
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
