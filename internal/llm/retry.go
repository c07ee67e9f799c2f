package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retrying retries failed calls of the wrapped client with linear backoff.
// Context cancellation and non-temporary HTTP errors are not retried.
type Retrying struct {
	Client     Client
	MaxRetries int
	Backoff    time.Duration
}

// WithRetry wraps c; maxRetries <= 0 returns c unchanged
func WithRetry(c Client, maxRetries int) Client {
	if maxRetries <= 0 {
		return c
	}
	return &Retrying{Client: c, MaxRetries: maxRetries, Backoff: time.Second}
}

// Chat chat request with retry
func (r *Retrying) Chat(ctx context.Context, messages []Message, tools []Tool, opts ...CallOption) (*ChatResponse, error) {
	var lastErr error
	for i := 0; i <= r.MaxRetries; i++ {
		resp, err := r.Client.Chat(ctx, messages, tools, opts...)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(ctx, err) || i == r.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * r.Backoff):
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", r.MaxRetries+1, lastErr)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
