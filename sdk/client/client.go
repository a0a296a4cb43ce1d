// Package client is the SDK's HTTP client for the registry API: a thin
// wrapper around net/http that adds bearer-token auth, JSON encode/decode,
// and the error taxonomy the build engine's Registry and LockManager
// interfaces expect. A Client does not implement those interfaces
// itself: wrap it with NewRegistry (sdk/build.Registry) and
// NewLockManager (sdk/build.LockManager) to pass it to sdk/build.Build.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to one registry environment, authenticated with a single
// bearer token (an API key or an internal token, per the registry's own
// sdkauth.go dispatch on the token's prefix).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client beyond its required base URL and token.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client, e.g. to set a custom
// Transport or Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests to rps with the given burst,
// smoothing out retry storms against the lock endpoints.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New builds a Client against baseURL (no trailing slash required) using
// token for every request's Authorization header.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is returned for any non-2xx response, carrying the decoded
// error body the registry's writeError produces.
type APIError struct {
	StatusCode    int
	Message       string
	Detail        string
	CorrelationID string
	TokenExpired  bool
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("registry: %s (%s)", e.Message, e.Detail)
	}
	return fmt.Sprintf("registry: %s", e.Message)
}

// errorBody mirrors the shape httpapi's writeError writes.
type errorBody struct {
	Error         string `json:"error"`
	Detail        string `json:"detail"`
	CorrelationID string `json:"correlation_id"`
	TokenExpired  bool   `json:"token_expired"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &APIError{
			StatusCode:    resp.StatusCode,
			Message:       eb.Error,
			Detail:        eb.Detail,
			CorrelationID: eb.CorrelationID,
			TokenExpired:  eb.TokenExpired,
		}
	}

	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("client: decoding response body: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}
