// Package fetch downloads pinned distribution files with retry, cached
// DNS resolution, and streaming digest verification.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
)

var (
	ErrNotFound     = errors.New("distribution not found")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("upstream host unavailable")
)

// IntegrityError reports a downloaded distribution whose digest does
// not match the one the index published.
type IntegrityError struct {
	URL  string
	Got  string
	Want string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity mismatch for %s: got sha256-%s, want sha256-%s", e.URL, e.Got, e.Want)
}

// Distribution is the streamed body of a distribution file. When the
// fetch carried an integrity string, the final read fails with
// *IntegrityError if the streamed bytes do not hash to it.
type Distribution struct {
	Body        io.ReadCloser
	Size        int64 // -1 if unknown
	ContentType string
}

// Interface is implemented by distribution fetchers. integrity is the
// index-published digest ("sha256-<hex>"), empty when none is known.
type Interface interface {
	Fetch(ctx context.Context, url, integrity string) (*Distribution, error)
	Head(ctx context.Context, url string) (size int64, contentType string, err error)
}

// Fetcher downloads distribution files from package indexes and forges.
// Responses with status 429 or 5xx are retried with exponential
// backoff; 404 and other client errors fail immediately.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxRetries sets the maximum retry attempts.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBaseDelay sets the initial delay for exponential backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// NewFetcher creates a new Fetcher with the given options.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			// sdists and wheels can be large
			Timeout:   5 * time.Minute,
			Transport: newCachingTransport(),
		},
		userAgent:  "requirements-install/1.0",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// newCachingTransport returns a transport that resolves hosts through
// a shared DNS cache, refreshed every 5 minutes. Distribution hosts
// are hit once per record, so cached lookups matter on large files.
func newCachingTransport() *http.Transport {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
			}
			return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Fetch downloads a distribution. The caller must read the returned
// Distribution.Body to completion and close it; with a non-empty
// integrity string the digest check happens on the final read.
func (f *Fetcher) Fetch(ctx context.Context, url, integrity string) (*Distribution, error) {
	want, err := digestFromIntegrity(integrity)
	if err != nil {
		return nil, err
	}

	var dist *Distribution
	operation := func() error {
		d, err := f.doFetch(ctx, url)
		if err != nil {
			if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
				return err
			}
			return backoff.Permanent(err)
		}
		dist = d
		return nil
	}

	if err := backoff.Retry(operation, f.newBackOff(ctx)); err != nil {
		return nil, err
	}

	if want != "" {
		dist.Body = &verifyingReader{body: dist.Body, hash: sha256.New(), want: want, url: url}
	}
	return dist, nil
}

func (f *Fetcher) doFetch(ctx context.Context, url string) (*Distribution, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching distribution: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return &Distribution{
			Body:        resp.Body,
			Size:        contentLength(resp),
			ContentType: resp.Header.Get("Content-Type"),
		}, nil

	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		return nil, ErrRateLimited

	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, ErrUpstreamDown

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// Head checks that a distribution exists and returns its metadata
// without downloading.
func (f *Fetcher) Head(ctx context.Context, url string) (size int64, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("head request: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return contentLength(resp), resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.baseDelay
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.maxRetries)), ctx)
}

func contentLength(resp *http.Response) int64 {
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n
		}
	}
	return -1
}

func digestFromIntegrity(integrity string) (string, error) {
	if integrity == "" {
		return "", nil
	}
	digest, ok := strings.CutPrefix(integrity, "sha256-")
	if !ok {
		return "", fmt.Errorf("unsupported integrity %q", integrity)
	}
	return digest, nil
}

// verifyingReader hashes the stream as it passes through and rejects
// it at EOF when the digest does not match the expected one.
type verifyingReader struct {
	body io.ReadCloser
	hash hash.Hash
	want string
	url  string
}

func (r *verifyingReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 {
		r.hash.Write(p[:n])
	}
	if errors.Is(err, io.EOF) {
		if got := hex.EncodeToString(r.hash.Sum(nil)); got != r.want {
			return n, &IntegrityError{URL: r.url, Got: got, Want: r.want}
		}
	}
	return n, err
}

func (r *verifyingReader) Close() error {
	return r.body.Close()
}
