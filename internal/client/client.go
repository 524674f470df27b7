// Package client is the outbound HTTP scaffolding test scenarios call
// through: a token-bucket rate limiter, a pluggable retry backoff, and
// error capture into the active test context.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"testkit/internal/testctx"
	"testkit/pkg/logging"
)

const subsystem = "client"

// ErrorRecorder receives the final error of an exhausted request. The
// per-test context implements it.
type ErrorRecorder interface {
	RecordError(err error)
}

// Config configures a Client. Zero values fall back to sane defaults.
type Config struct {
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	Backoff           Strategy
}

// Client wraps an http.Client with throttling and retries. Responses with
// status 429 or >= 500 and transport errors are retried; other statuses
// are the caller's problem.
type Client struct {
	http        *http.Client
	limiter     *RateLimiter
	backoff     Strategy
	maxAttempts int
}

func New(cfg Config) *Client {
	c := &Client{
		http:        cfg.HTTPClient,
		limiter:     NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		backoff:     cfg.Backoff,
		maxAttempts: cfg.MaxAttempts,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.backoff == nil {
		c.backoff = DefaultBackoff()
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	return c
}

// Do performs the request with rate limiting and retries. When all
// attempts are exhausted the final error is recorded into tc (when
// non-nil) and returned. The request body, if any, must be rewindable;
// callers should pass body bytes via DoWithBody for retried requests.
func (c *Client) Do(ctx context.Context, tc *testctx.Context, req *http.Request) (*http.Response, error) {
	return c.do(ctx, tc, func() (*http.Request, error) {
		return req.Clone(ctx), nil
	})
}

// DoWithBody builds a fresh request per attempt so the body can be re-sent.
func (c *Client) DoWithBody(ctx context.Context, tc *testctx.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	return c.do(ctx, tc, func() (*http.Request, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			req.Header[k] = vs
		}
		return req, nil
	})
}

func (c *Client) do(ctx context.Context, tc *testctx.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("request %s %s: status %d", req.Method, req.URL, resp.StatusCode)
			// Drain so the transport can reuse the connection.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if attempt == c.maxAttempts {
			break
		}
		delay := c.backoff.Delay(attempt)
		logging.Debug(subsystem, "attempt %d/%d failed (%v), retrying in %s", attempt, c.maxAttempts, lastErr, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if tc != nil {
		tc.RecordError(lastErr)
	}
	return nil, lastErr
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
