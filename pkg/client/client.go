// Package client is a Go client for the authpolicy HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultServer  = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second
)

// Client is the authpolicy API client.
type Client struct {
	apiKey     string
	server     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// New creates a new authpolicy client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey: apiKey,
		server: DefaultServer,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithServer sets a custom server URL.
func WithServer(server string) Option {
	return func(c *Client) {
		if server != "" {
			c.server = server
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// ServerURL returns the configured server URL.
func (c *Client) ServerURL() string {
	return c.server
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// do sends a request to path under /api/v1 and decodes a response with status want
// into out. Any other status becomes an *APIError or *AuthError.
func (c *Client) do(method, path string, query url.Values, body any, want int, out any) error {
	u := c.server + "/api/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		var data []byte
		switch b := body.(type) {
		case json.RawMessage:
			data = b
		default:
			var err error
			if data, err = json.Marshal(body); err != nil {
				return err
			}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{Message: "invalid or missing API key"}
	}
	if resp.StatusCode != want {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var errResp struct {
		Error          string    `json:"error"`
		Problems       []Problem `json:"problems"`
		CurrentVersion int       `json:"current_version"`
	}
	json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{
		StatusCode:     resp.StatusCode,
		Message:        msg,
		Problems:       errResp.Problems,
		CurrentVersion: errResp.CurrentVersion,
	}
}
