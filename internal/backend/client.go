// Package backend holds the clients for the hosted backend collaborator:
// authentication, table queries and mutations, object storage, the realtime
// change feed, and the local device store. The backend itself is opaque;
// only its wire contract is implemented here.
package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// TokenSource yields the current access token, if any. The auth client
// implements it; the table and storage clients consume it.
type TokenSource interface {
	AccessToken() (string, bool)
}

// Client is the shared HTTP transport for all backend APIs.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }
func (c *Client) AnonKey() string { return c.anonKey }

// do issues one request against the backend. Every request carries the
// project api key; the bearer token falls back to the anon key when no user
// session is supplied, which is how anonymous reads are scoped server-side.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body io.Reader, headers map[string]string) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("apikey", c.anonKey)
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	return resp, nil
}

// snippet truncates a response body for diagnostics.
func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 200))
	return string(b)
}
