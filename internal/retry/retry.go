// Package retry wraps calls to external services with bounded
// exponential backoff. Only transient failures are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"
)

const (
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries = 3
	baseDelay  = 500 * time.Millisecond
	maxDelay   = 10 * time.Second
	jitterFrac = 0.25
)

// HTTPError carries a non-2xx status from an upstream service so the
// retry policy can decide whether the failure is transient.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the error is worth retrying: network
// timeouts, connection failures, rate limits, and server-side 5xx.
// Client errors (4xx except 429) are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, hint := range []string{"connection refused", "connection reset", "no such host", "broken pipe", "EOF"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// Delay returns the backoff before retry attempt n (0-based), with
// +/-25% jitter, capped at 10s.
func Delay(attempt int) time.Duration {
	d := baseDelay << uint(attempt)
	if d > maxDelay {
		d = maxDelay
	}
	jitter := 1 + jitterFrac*(2*rand.Float64()-1)
	d = time.Duration(float64(d) * jitter)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// Do runs fn, retrying transient failures up to MaxRetries times with
// exponential backoff. It returns the first permanent error or the
// last transient one.
func Do[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(Delay(attempt - 1)):
			}
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}
	return zero, fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}
