// Package httpclient provides a retrying HTTP client shared by the LLM and
// embedding providers.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Client wraps http.Client with bounded retries for transient provider
// failures. Rate-limit responses honor the Retry-After header when present.
type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryable reports whether a response status is worth another attempt.
func retryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Do executes the request, retrying transient failures with exponential
// backoff. The request must set GetBody for retries to replay the payload.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else if !retryable(resp.StatusCode) {
			return resp, nil
		} else {
			lastErr = fmt.Errorf("request failed with status %d", resp.StatusCode)
			if attempt < c.maxRetries {
				delay := c.backoffDelay(attempt, resp)
				resp.Body.Close()
				slog.Debug("retrying request", "attempt", attempt+1, "delay", delay, "status", resp.StatusCode)
				time.Sleep(delay)
				continue
			}
			// Out of retries: hand the response back so callers can report
			// the provider's error body.
			return resp, nil
		}

		if attempt < c.maxRetries {
			delay := c.backoffDelay(attempt, nil)
			slog.Debug("retrying request", "attempt", attempt+1, "delay", delay, "error", err)
			time.Sleep(delay)
		}
	}
	return nil, lastErr
}

func (c *Client) backoffDelay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return time.Duration(float64(c.baseDelay) * math.Pow(2, float64(attempt)))
}
