package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"Athena/internal/config"
	"Athena/pkg/circuitbreaker"
)

// Client is a custom HTTP client that wraps the standard http.Client and
// provides built-in support for circuit breaking and bounded retries of
// idempotent requests.
type Client struct {
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	maxRetries int
	retryWait  time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport sets the underlying RoundTripper, for example a digest auth
// transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.httpClient.Transport = rt }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries sets how many times an idempotent request is retried after a
// transport error or a 5xx response. Non-idempotent methods are never
// retried.
func WithRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// NewClient creates a new Client with a circuit breaker configured from cfg.
func NewClient(cfg config.CircuitBreakerConfig, opts ...Option) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryWait:  200 * time.Millisecond,
	}

	if cfg.Enabled {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid circuit breaker timeout %q: %w", cfg.Timeout, err)
		}
		c.breaker = circuitbreaker.New(cfg.FailureThreshold, cfg.SuccessThreshold, timeout)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do executes an HTTP request with circuit breaker protection. Transport
// errors and 5xx responses count as breaker failures, but a received
// response is still returned so callers can inspect the status and body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.attempt(req)
	}

	var resp *http.Response
	err := c.breaker.Do(func() error {
		r, err := c.attempt(req)
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server error: received status code %d", r.StatusCode)
		}
		return nil
	})
	if err != nil {
		if resp != nil {
			// The failure is recorded; the caller still gets the response.
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}

// attempt runs the request, retrying idempotent requests whose body can be
// rewound. Each attempt uses a fresh clone so a consumed body never leaks
// into the next try.
func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	retries := 0
	if c.maxRetries > 0 && isIdempotent(req.Method) && (req.Body == nil || req.GetBody != nil) {
		retries = c.maxRetries
	}

	var lastErr error
	for i := 0; i <= retries; i++ {
		if i > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(time.Duration(i) * c.retryWait):
			}
		}

		attemptReq := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", err)
			}
			attemptReq.Body = body
		}

		resp, err := c.httpClient.Do(attemptReq)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError && i < retries {
			// Drain so the connection can be reused, then retry.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: received status code %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}
