// Package api is the single outbound gateway for all backend REST calls.
// Every request carries the stored bearer credential; a 401 response triggers
// exactly one transparent refresh-and-retry cycle before the session is
// declared over.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openhms/hms-client/credentials"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	refreshPath    = "/refresh/"
	defaultTimeout = 30 * time.Second
)

// Client issues JSON requests against the backend through the interceptor
// pipeline. Construct one per application; it is safe for concurrent use.
type Client struct {
	baseURL       string
	store         credentials.Store
	timeout       time.Duration
	baseTransport http.RoundTripper
	log           zerolog.Logger

	httpClient *http.Client // intercepted: bearer attach + refresh/retry
	bare       *http.Client // refresh exchange only, never intercepted

	onSessionExpired func()
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithTimeout sets the per-request timeout (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithBaseTransport replaces the underlying round tripper (primarily for
// testing).
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.baseTransport = rt
	}
}

// New creates a Client for the given base URL, reading and writing
// credentials through store.
func New(baseURL string, store credentials.Store, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[api.New] baseURL is required")
	}
	if store == nil {
		return nil, errors.New("[api.New] credential store is required")
	}

	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		store:         store,
		timeout:       defaultTimeout,
		baseTransport: http.DefaultTransport,
		log:           zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}

	c.bare = &http.Client{Timeout: c.timeout}
	c.httpClient = &http.Client{
		Timeout: c.timeout,
		Transport: &authTransport{
			base:     c.baseTransport,
			store:    store,
			exchange: c.refreshExchange,
			log:      c.log,
			onSessionExpired: func() {
				if c.onSessionExpired != nil {
					c.onSessionExpired()
				}
			},
		},
	}
	return c, nil
}

// OnSessionExpired registers the callback invoked when the pipeline gives up
// on the session (refresh failed or no refresh token stored). Wire this once
// at application start, before issuing requests.
func (c *Client) OnSessionExpired(fn func()) {
	c.onSessionExpired = fn
}

// Do performs a JSON request through the pipeline. body (when non-nil) is
// marshalled as the request payload; out (when non-nil) receives the decoded
// response. Statuses >= 400 return an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "[Client.Do] marshal request")
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return errors.Wrap(err, "[Client.Do] create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug().Str("method", method).Str("path", path).Msg("api request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "[Client.Do] request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "[Client.Do] read response")
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("api response")

	if resp.StatusCode >= http.StatusBadRequest {
		return normalizeError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "[Client.Do] parse response")
		}
	}
	return nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

// refreshExchange trades the refresh token for a new access token. The call
// goes through a bare client so it is never itself subject to the retry
// logic. A backend that rotates refresh tokens returns a new one alongside
// the access token; otherwise the old refresh token is carried forward.
func (c *Client) refreshExchange(ctx context.Context, refreshToken string) (*credentials.Pair, error) {
	data, err := json.Marshal(map[string]string{credentials.RefreshKey: refreshToken})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.refreshExchange] marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "[Client.refreshExchange] create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.bare.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.refreshExchange] exchange failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.refreshExchange] read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, normalizeError(resp.StatusCode, body)
	}

	var pair credentials.Pair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, errors.Wrap(err, "[Client.refreshExchange] parse response")
	}
	if pair.Access == "" {
		return nil, errors.New("[Client.refreshExchange] no access token in response")
	}
	if pair.Refresh == "" {
		pair.Refresh = refreshToken
	}

	c.log.Debug().Msg("access token refreshed")
	return &pair, nil
}
