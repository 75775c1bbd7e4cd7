package platform

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Option configures optional Client settings.
type Option func(*options) error

// options holds optional configuration for creating a Client.
type options struct {
	// baseURL is the base URL for API requests.
	baseURL string

	// burst is the maximum number of requests allowed at once by the rate limiter.
	burst int

	// httpClient is a custom HTTP client.
	httpClient *http.Client

	// requestsPerSecond is the sustained outbound request rate. Zero disables limiting.
	requestsPerSecond float64

	// timeout is the HTTP client timeout.
	timeout time.Duration
}

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(o *options) error {
		baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		o.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithRateLimit limits outbound requests to requestsPerSecond with the given burst.
// A zero rate disables limiting.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(o *options) error {
		if requestsPerSecond < 0 {
			return fmt.Errorf("rate limit cannot be negative, got %v", requestsPerSecond)
		}
		if requestsPerSecond > 0 && burst < 1 {
			return fmt.Errorf("burst must be at least 1, got %d", burst)
		}
		o.requestsPerSecond = requestsPerSecond
		o.burst = burst
		return nil
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// limiter returns the configured rate limiter, or an unlimited one.
func (o *options) limiter() *rate.Limiter {
	if o.requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(o.requestsPerSecond), o.burst)
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		baseURL:           "https://api.creatorplatform.com/v2",
		burst:             5,
		requestsPerSecond: 5,
		timeout:           30 * time.Second,
	}
}
