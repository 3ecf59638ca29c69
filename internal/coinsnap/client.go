// Package coinsnap is a thin wire client for the Coinsnap payment server
// REST API: invoices, pull payments, server info and API key permissions.
package coinsnap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/coinsnap-bridge/internal/resilience"
)

// DefaultBaseURL points at the hosted Coinsnap service.
const DefaultBaseURL = "https://app.coinsnap.io"

// Client talks to one Coinsnap server with one API key. All calls are
// synchronous and single-attempt; the embedded breaker sheds load when the
// server is unhealthy.
type Client struct {
	baseURL string
	apiKey  string
	http    resilience.HTTPClient
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http.Client = hc }
}

// WithBreaker attaches a shared circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.http.Breaker = b }
}

// WithTimeout caps the duration of a single API call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New constructs a client for the given server URL and API key.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http: resilience.HTTPClient{
			Client:  &http.Client{Timeout: 30 * time.Second},
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the Coinsnap server. The body is kept
// for logs; callers must not surface it to shoppers.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coinsnap: unexpected status %d: %s", e.Status, e.Body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("coinsnap: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("coinsnap: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "token "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("coinsnap: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coinsnap: decode response: %w", err)
	}
	return nil
}
