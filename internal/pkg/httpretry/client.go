// Package httpretry wraps an HTTP client with bounded retries for provider
// calls. Only responses that mean "not accepted, try later" are retried, so
// a retry never duplicates a message the provider already took.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/fanmail/internal/pkg/logger"
)

// HTTPDoer is satisfied by *http.Client and *RetryClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries 429/502/503/504 and transport errors with capped
// exponential backoff and full jitter. A Retry-After header, when present
// and within maxDelay, replaces the computed delay.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryClient wraps client. nil gets a 30s-timeout http.Client;
// maxRetries <= 0 means 3.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   10 * time.Second,
	}
}

// WithBackoff overrides the delay bounds.
func (rc *RetryClient) WithBackoff(base, max time.Duration) *RetryClient {
	rc.baseDelay, rc.maxDelay = base, max
	return rc
}

// Do sends req, retrying as described on RetryClient. The final retryable
// response is returned as-is so the caller can read its body. Requests with
// a body are only retried when GetBody is set.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				return nil, lastErr
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			if wait <= 0 {
				wait = rc.backoff(attempt)
			}
			logger.Debug("retrying provider request",
				"attempt", attempt, "max", rc.maxRetries,
				"host", req.URL.Host, "path", req.URL.Path, "wait", wait)

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
			wait = 0
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !Retryable(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		wait = retryAfter(resp.Header.Get("Retry-After"), rc.maxDelay)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}
	return nil, lastErr
}

// backoff is random(0, min(maxDelay, base*2^(attempt-1))), floored at 50ms.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	exp := math.Min(float64(rc.baseDelay)*math.Pow(2, float64(attempt-1)), float64(rc.maxDelay))
	d := time.Duration(rand.Float64() * exp)
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	return d
}

// retryAfter parses a delta-seconds Retry-After. Dates and values beyond
// max yield zero, which falls back to backoff.
func retryAfter(h string, max time.Duration) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > max {
		return 0
	}
	return d
}

// Retryable reports whether a status means the request was not accepted
// and may be sent again.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
