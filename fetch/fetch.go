// Package fetch provides the HTTP client policy shared by all downloaders:
// bounded retry with exponential backoff on transient failures, a fixed
// User-Agent, per-request timeouts, and URL safety checks on every redirect.
//
// Only idempotent methods (GET, HEAD) are issued, so retrying is always safe.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Retryable HTTP status codes, matching common transient-failure semantics.
var retryStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Config configures the client.
type Config struct {
	// Timeout is the per-request timeout. Default: 60s.
	Timeout time.Duration
	// MaxRetries is the number of retries after the initial attempt, so a
	// request is tried at most MaxRetries+1 times. Default: 5.
	MaxRetries int
	// Backoff is the base delay between attempts, doubled each retry.
	// Default: 1s.
	Backoff time.Duration
	// UserAgent sent with every request.
	UserAgent string
	// URLValidator validates URLs before the first request and on every
	// redirect hop (SSRF prevention). Default: ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "recolte/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = ValidateURL
	}
}

// StatusError is returned for non-retryable HTTP error statuses (and for
// retryable ones once the attempt bound is exhausted).
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.URL)
}

// Client issues GET and HEAD requests under the retry policy.
type Client struct {
	http   *http.Client
	config Config
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Get retrieves a URL. The caller owns the response body and must close it.
// The response status is always < 400 on a nil error.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url)
}

// Head probes a URL. The (empty) body is already closed on return.
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	resp, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, url string) (*http.Response, error) {
	if err := c.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("URL blocked: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.Backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			// Transport failure: connection refused, timeout, TLS. Retry
			// unless the context itself is done.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode, URL: url}
			if retryStatus[resp.StatusCode] {
				continue
			}
			// Non-retryable client error: fail immediately.
			return nil, lastErr
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%s %s: retries exhausted: %w", method, url, lastErr)
}

// IsStatus reports whether err is a StatusError.
func IsStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
