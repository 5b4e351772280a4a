package analysis

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// RetryPolicy decides whether a failed atomic request is worth repeating.
// Only rate limiting from the proxy itself qualifies; exhausted upstream
// quota arrives with the same status code but is terminal.
type RetryPolicy struct {
	MaxRetries   int
	DefaultDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		DefaultDelay: time.Second,
	}
}

// Next reports how long to wait before retry number attempt+1, or false when
// err is terminal. attempt counts the retries already made.
func (p RetryPolicy) Next(attempt int, err error) (time.Duration, bool) {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	if IsQuotaMessage(statusErr.Message) {
		return 0, false
	}
	if attempt >= p.MaxRetries {
		return 0, false
	}

	delay := p.DefaultDelay
	if statusErr.RetryAfter > 0 {
		delay = statusErr.RetryAfter
	}
	return delay, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
