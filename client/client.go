// Package client provides the HTTP client used to talk to package index APIs.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenk/backoff"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 5
	defaultUserAgent  = "requirements"
)

// Client is an HTTP client with retry logic for package index APIs.
// Responses with status 429 or 5xx are retried with exponential backoff;
// all other errors are returned immediately.
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxRetries int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUserAgent,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - 5 retries with exponential backoff
// - Retry on 429 and 5xx responses
func DefaultClient() *Client {
	return NewClient()
}

// WithUserAgent returns a copy of the client using the given User-Agent.
func (c *Client) WithUserAgent(ua string) *Client {
	clone := *c
	clone.userAgent = ua
	return &clone
}

// GetJSON fetches url and decodes the response body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

// GetBody fetches url and returns the raw response body.
func (c *Client) GetBody(ctx context.Context, url string) (string, error) {
	body, err := c.get(ctx, url, "*/*")
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}
	return string(data), nil
}

// Head issues a HEAD request and returns the Content-Length, or -1 if unknown.
func (c *Client) Head(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	size := int64(-1)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			size = n
		}
	}
	return size, nil
}

func (c *Client) get(ctx context.Context, url, accept string) (io.ReadCloser, error) {
	var body io.ReadCloser

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", accept)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body = resp.Body
			return nil

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			drain(resp)
			return &RateLimitError{RetryAfter: retryAfter}

		case resp.StatusCode >= 500:
			err := &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: snippet(resp)}
			return err

		default:
			err := &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: snippet(resp)}
			return backoff.Permanent(err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return body, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()
}

func snippet(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()
	return string(data)
}
