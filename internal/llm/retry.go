package llm

import (
	"context"

	"github.com/pi-run/pi/internal/backoff"
)

// RetryingClient wraps a Client with the C1 retry contract: retryable
// errors (per IsRetryable) are retried with backoff.NextBackoff-shaped
// delays up to MaxAttempts, bounded cumulatively by BudgetMs when set.
// Non-retryable errors (auth, invalid-response, serde, missing-api-key)
// propagate immediately so the caller's fallback router can fail over
// without wasting the retry budget on a route that cannot succeed.
type RetryingClient struct {
	inner       Client
	maxAttempts int
	budgetMs    int64
}

// NewRetryingClient wraps inner so every Complete/CompleteWithStream call
// retries up to maxAttempts times (1 means no retry). budgetMs, if
// positive, caps the cumulative sleep time across attempts; once
// exhausted, the last error is returned without a further attempt.
func NewRetryingClient(inner Client, maxAttempts int, budgetMs int64) *RetryingClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingClient{inner: inner, maxAttempts: maxAttempts, budgetMs: budgetMs}
}

func (c *RetryingClient) Name() string { return c.inner.Name() }

func (c *RetryingClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return c.run(ctx, func() (*ChatResponse, error) { return c.inner.Complete(ctx, req) })
}

func (c *RetryingClient) CompleteWithStream(ctx context.Context, req ChatRequest, onDelta OnDelta) (*ChatResponse, error) {
	return c.run(ctx, func() (*ChatResponse, error) { return c.inner.CompleteWithStream(ctx, req, onDelta) })
}

func (c *RetryingClient) run(ctx context.Context, call func() (*ChatResponse, error)) (*ChatResponse, error) {
	var spentMs int64
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		resp, err := call()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == c.maxAttempts-1 {
			break
		}
		delay := backoff.NextBackoff(attempt)
		if c.budgetMs > 0 {
			if spentMs+delay.Milliseconds() > c.budgetMs {
				break
			}
			spentMs += delay.Milliseconds()
		}
		if err := backoff.SleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
