package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIBaseURL is the carrier REST API root.
const DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

const maxErrorBody = 512

// APIError is returned when the carrier REST API answers with a non-2xx
// status.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telephony: api: HTTP %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("telephony: api: HTTP %d: %s", e.StatusCode, e.Message)
}

// CallResource is the subset of the carrier's call resource phonebridge
// uses.
type CallResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithAPIBaseURL overrides the REST API root. Useful for tests.
func WithAPIBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithClientHTTP overrides the HTTP client.
func WithClientHTTP(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// Client places and ends calls through the carrier REST API. It is safe for
// concurrent use.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	http       *http.Client
}

// NewClient creates a Client. from is the default caller id for outbound
// calls.
func NewClient(accountSID, authToken, from string, opts ...ClientOption) (*Client, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("telephony: account sid and auth token are required")
	}
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    DefaultAPIBaseURL,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CreateCall dials to and fetches call instructions from webhookURL. An empty
// from uses the client's default number.
func (c *Client) CreateCall(ctx context.Context, to, from, webhookURL string) (*CallResource, error) {
	if from == "" {
		from = c.from
	}
	if to == "" || from == "" || webhookURL == "" {
		return nil, errors.New("telephony: create call: to, from and webhook url are required")
	}
	form := url.Values{
		"To":   {to},
		"From": {from},
		"Url":  {webhookURL},
	}
	return c.post(ctx, "/Accounts/"+url.PathEscape(c.accountSID)+"/Calls.json", form)
}

// Hangup ends an active call.
func (c *Client) Hangup(ctx context.Context, callSID string) (*CallResource, error) {
	if callSID == "" {
		return nil, errors.New("telephony: hangup: call sid is required")
	}
	form := url.Values{"Status": {"completed"}}
	return c.post(ctx, "/Accounts/"+url.PathEscape(c.accountSID)+"/Calls/"+url.PathEscape(callSID)+".json", form)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (*CallResource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("telephony: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telephony: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var body struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &body) == nil && body.Message != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
		return nil, apiErr
	}

	var call CallResource
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return nil, fmt.Errorf("telephony: decode response: %w", err)
	}
	return &call, nil
}
