package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"blogcrawler/internal/metrics"
	"blogcrawler/internal/report"
)

// SleepFunc pauses between attempts. It returns early with the context's
// error when ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy is a fixed-delay bounded retry: MaxAttempts tries in total with
// Delay between consecutive tries.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       SleepFunc
}

// NewRetryPolicy returns the default policy of 3 attempts 3s apart.
func NewRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 3 * time.Second, Sleep: contextSleep}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Attempt performs one try and reports the HTTP status (0 when no response
// was received) and any transport error.
type Attempt func(ctx context.Context, attempt int) (status int, err error)

// Run calls fn until it succeeds, fails terminally, or attempts run out. It
// returns the last status and error. A nil error means the last attempt
// produced a usable response.
func (p RetryPolicy) Run(ctx context.Context, rep report.Reporter, m *metrics.Metrics, url string, fn Attempt) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = contextSleep
	}
	if rep == nil {
		rep = report.Nop()
	}

	var (
		status  int
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		status, lastErr = fn(ctx, attempt)
		if lastErr == nil && !RetryableStatus(status) {
			if isTerminalStatus(status) {
				return status, &StatusError{Status: status}
			}
			return status, nil
		}
		if lastErr == nil {
			lastErr = &StatusError{Status: status}
		} else if !RetryableError(lastErr) {
			return status, lastErr
		}
		if attempt == attempts {
			break
		}
		rep.Info("repeat request", "url", url, "attempt", attempt+1, "status", status, "error", lastErr)
		m.Retry()
		if err := sleep(ctx, p.Delay); err != nil {
			return status, err
		}
	}
	rep.Warn("all attempts failed", "url", url, "attempts", attempts, "status", status, "error", lastErr)
	return status, lastErr
}

// RetryableStatus reports whether a response status warrants another try.
func RetryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

func isTerminalStatus(status int) bool {
	return status >= 400 && !RetryableStatus(status)
}

// RetryableError reports whether a transport error warrants another try.
// Context cancellation by the caller is never retried.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
