// pkg/erp/retry.go
package erp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryPolicy bounds the automatic retry applied to every ERP call
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Statuses       []int
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is three retries, 1s base doubling, on 429 and 5xx
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Statuses:       []int{429, 500, 502, 503, 504},
		AttemptTimeout: 30 * time.Second,
	}
}

// RetryTransport retries idempotently replayable requests on transport errors
// and on the configured status codes. The final attempt's response is always
// handed back so the caller can decode the error body.
type RetryTransport struct {
	next     http.RoundTripper
	policy   RetryPolicy
	statuses map[int]bool
	logger   *zap.Logger
	retries  atomic.Int64
}

// NewRetryTransport wraps next. A nil next uses http.DefaultTransport.
func NewRetryTransport(next http.RoundTripper, policy RetryPolicy, logger *zap.Logger) *RetryTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	statuses := make(map[int]bool, len(policy.Statuses))
	for _, s := range policy.Statuses {
		statuses[s] = true
	}
	return &RetryTransport{
		next:     next,
		policy:   policy,
		statuses: statuses,
		logger:   logger.Named("retry"),
	}
}

// Retries returns the number of retried attempts so far
func (t *RetryTransport) Retries() int64 {
	return t.retries.Load()
}

type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.status)
}

// RoundTrip implements http.RoundTripper
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	maxTries := uint(t.policy.MaxRetries + 1)

	if err := ensureReplayable(req); err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	if t.policy.BaseDelay > 0 {
		b.InitialInterval = t.policy.BaseDelay
	}
	if t.policy.MaxDelay > 0 {
		b.MaxInterval = t.policy.MaxDelay
	}
	b.Multiplier = 2

	var attempt uint
	operation := func() (*http.Response, error) {
		attempt++
		last := attempt >= maxTries

		r, cancel, err := t.prepare(req, attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := t.next.RoundTrip(r)
		if err != nil {
			cancel()
			if ctx.Err() != nil || last {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		if !t.statuses[resp.StatusCode] || last {
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}

		retryAfter := resp.Header.Get("Retry-After")
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		cancel()

		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, &retryableStatusError{status: resp.StatusCode}
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.retries.Add(1)
			t.logger.Warn("Retrying ERP request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)
}

// prepare clones the request for one attempt with a fresh body and an
// attempt-scoped timeout
func (t *RetryTransport) prepare(req *http.Request, attempt uint) (*http.Request, context.CancelFunc, error) {
	ctx, cancel := req.Context(), context.CancelFunc(func() {})
	if t.policy.AttemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.policy.AttemptTimeout)
	}

	r := req.Clone(ctx)
	if attempt > 1 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		r.Body = body
	}
	return r, cancel, nil
}

// ensureReplayable buffers a body that cannot be re-read
func ensureReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("failed to buffer request body: %w", err)
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
