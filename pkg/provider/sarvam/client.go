// Package sarvam is a minimal client for the Sarvam AI REST API.
//
// It carries the credentials and the HTTP plumbing shared by the Sarvam
// speech-to-text, translation and text-to-speech providers. Each endpoint's
// request and response shapes live with the provider that uses them.
package sarvam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Sarvam API endpoint.
const DefaultBaseURL = "https://api.sarvam.ai"

// DefaultLanguage is reported when the API omits a language code.
const DefaultLanguage = "en-IN"

// maxErrorBody bounds how much of an error response is kept in the error text.
const maxErrorBody = 512

// APIError is returned when the API answers with a non-2xx status.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sarvam: %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Useful for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// Client sends authenticated requests to the Sarvam API. It is safe for
// concurrent use.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Client. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("sarvam: api key must not be empty")
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// PostJSON marshals in, posts it to path and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("sarvam: %s: marshal request: %w", path, err)
	}
	return c.Do(ctx, path, "application/json", bytes.NewReader(body), out)
}

// Do posts a pre-encoded body with the given content type to path and decodes
// the JSON response into out.
func (c *Client) Do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("sarvam: %s: create request: %w", path, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("api-subscription-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sarvam: %s: http request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sarvam: %s: decode response: %w", path, err)
	}
	return nil
}
