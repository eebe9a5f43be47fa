// Package http implements the rate-limited, retrying HTTP client the
// upstream connectors are built on.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrUpstreamUnavailable is returned once the retry budget for a request
// is exhausted. Callers must treat it as a definitive failure of the
// fetch, not as "zero records exist".
var ErrUpstreamUnavailable = errors.New("upstream unavailable: retry budget exhausted")

// ClientConfig configures the HTTP client behavior.
type ClientConfig struct {
	// BaseURL is the base URL for all requests.
	BaseURL string

	// Auth configures authentication.
	Auth AuthConfig

	// Timeout for individual requests (default: 5m). Upstream report
	// endpoints are slow; the retry budget bounds total wait, not this.
	Timeout time.Duration

	// MaxAttempts per request (default: 30).
	MaxAttempts int

	// BackoffBase: the n-th retry waits base^(n-1) seconds (default: 5).
	BackoffBase float64

	// RateLimit requests per second (default: 10).
	RateLimit float64

	// RateBurst maximum burst size (default: 5).
	RateBurst int

	// Headers to add to all requests.
	Headers map[string]string

	// Transport allows injecting a custom HTTP transport (for tests).
	Transport http.RoundTripper

	// Sleep is the wait primitive between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultClientConfig returns a client config with the documented
// defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:     5 * time.Minute,
		MaxAttempts: 30,
		BackoffBase: 5,
		RateLimit:   10.0,
		RateBurst:   5,
		Headers:     make(map[string]string),
	}
}

// Client is a rate-limited, retry-capable HTTP client.
type Client struct {
	config      *ClientConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	log         *slog.Logger
}

// NewClient creates a new HTTP client with the given configuration.
func NewClient(config *ClientConfig, log *slog.Logger) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 30
	}
	if config.BackoffBase == 0 {
		config.BackoffBase = 5
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10.0
	}
	if config.RateBurst == 0 {
		config.RateBurst = 5
	}
	if config.Sleep == nil {
		config.Sleep = sleepCtx
	}
	if config.Auth == nil {
		config.Auth = NoAuth{}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		log:         log,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Request represents an HTTP request to be made.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    io.Reader
}

// Response wraps an HTTP response with convenience methods.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the response body into the given target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// Do executes a request with rate limiting and retry. Any non-2xx
// status or empty body counts as a failed attempt; the n-th retry waits
// base^(n-1) seconds (1s, 5s, 25s, ...) until MaxAttempts is reached,
// after which ErrUpstreamUnavailable wraps the last failure.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(c.config.BackoffBase, float64(attempt-1))) * time.Second
			c.log.Debug("retrying request", "path", req.Path, "attempt", attempt, "backoff", backoff)
			if err := c.config.Sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.doOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

// doOnce executes a single request attempt.
func (c *Client) doOnce(ctx context.Context, req *Request) (*Response, error) {
	fullURL := c.config.BaseURL
	if req.Path != "" {
		fullURL = strings.TrimSuffix(fullURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	}
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, req.Body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	c.config.Auth.Apply(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body from %s", req.Path)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
	})
}

// HTTPError represents a non-2xx HTTP response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
