package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// CircuitBreakerFetcher wraps a Fetcher with per-host circuit breakers
// so a dead index or forge stops being hammered while the other hosts
// keep serving.
type CircuitBreakerFetcher struct {
	fetcher  *Fetcher
	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// NewCircuitBreakerFetcher wraps f with per-host circuit breaking.
func NewCircuitBreakerFetcher(f *Fetcher) *CircuitBreakerFetcher {
	return &CircuitBreakerFetcher{
		fetcher:  f,
		breakers: make(map[string]*circuit.Breaker),
	}
}

// Fetch downloads through the host's breaker. An open breaker fails
// fast with an error wrapping ErrUpstreamDown.
func (c *CircuitBreakerFetcher) Fetch(ctx context.Context, fetchURL, integrity string) (*Distribution, error) {
	host := hostOf(fetchURL)
	br := c.breaker(host)
	if !br.Ready() {
		return nil, fmt.Errorf("circuit open for %s: %w", host, ErrUpstreamDown)
	}

	var dist *Distribution
	err := br.Call(func() error {
		var fetchErr error
		dist, fetchErr = c.fetcher.Fetch(ctx, fetchURL, integrity)
		return fetchErr
	}, 0)
	if err != nil {
		return nil, err
	}
	return dist, nil
}

// Head checks a distribution through the host's breaker.
func (c *CircuitBreakerFetcher) Head(ctx context.Context, headURL string) (size int64, contentType string, err error) {
	host := hostOf(headURL)
	br := c.breaker(host)
	if !br.Ready() {
		return 0, "", fmt.Errorf("circuit open for %s: %w", host, ErrUpstreamDown)
	}

	err = br.Call(func() error {
		var headErr error
		size, contentType, headErr = c.fetcher.Head(ctx, headURL)
		return headErr
	}, 0)
	return size, contentType, err
}

// BreakerState reports each known host's breaker as "open" or "closed",
// for health output.
func (c *CircuitBreakerFetcher) BreakerState() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := make(map[string]string, len(c.breakers))
	for host, br := range c.breakers {
		if br.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func (c *CircuitBreakerFetcher) breaker(host string) *circuit.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if br, ok := c.breakers[host]; ok {
		return br
	}
	br := newBreaker()
	c.breakers[host] = br
	return br
}

// newBreaker trips after 5 consecutive failures and reopens on an
// exponential schedule starting at 30 seconds.
func newBreaker() *circuit.Breaker {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 30 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.Reset()

	return circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    b,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
}

// hostOf groups breaker state by URL host.
func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}
