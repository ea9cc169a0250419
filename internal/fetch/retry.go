package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// RetryPolicy bounds how hard Retrier tries.
type RetryPolicy struct {
	MaxRetries  int           // total attempts, including the first
	BaseBackoff time.Duration // delay before attempt k+1 is BaseBackoff * 2^(k-1)
	Timeout     time.Duration // per-attempt timeout
}

// DefaultRetryPolicy returns three attempts, a two second base and a 30 second timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseBackoff: 2 * time.Second,
		Timeout:     DefaultTimeout,
	}
}

// maxBackoffShift caps the doubling so large attempt numbers cannot overflow.
const maxBackoffShift = 16

// Delay returns the wait before the attempt following attempt (1-based). The
// result saturates at math.MaxInt64 instead of wrapping.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	shift := min(max(attempt-1, 0), maxBackoffShift)
	if p.BaseBackoff > math.MaxInt64>>shift {
		return math.MaxInt64
	}
	return p.BaseBackoff << shift
}

// Retrier wraps a single-attempt Fetcher with bounded exponential backoff.
type Retrier struct {
	Fetcher Fetcher
	Policy  RetryPolicy
	Logger  *slog.Logger

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnAttempt, if set, observes each attempt's outcome.
	OnAttempt func(attempt int, err error)
}

// NewRetrier returns a Retrier for f with policy p.
func NewRetrier(f Fetcher, p RetryPolicy, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{Fetcher: f, Policy: p, Logger: logger}
}

// Fetch tries the wrapped fetcher until it succeeds, fails permanently, or runs out of attempts.
func (r *Retrier) Fetch(ctx context.Context, url string) (*Result, error) {
	maxAttempts := r.Policy.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	lastStatus := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := r.attempt(ctx, url)
		if r.OnAttempt != nil {
			r.OnAttempt(attempt, err)
		}
		if err == nil {
			return res, nil
		}
		if IsPermanent(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s cancelled after %d attempts: %w", url, attempt, ctx.Err())
		}

		lastErr = err
		if re, ok := isRetryable(err); ok {
			lastStatus = re.StatusCode
		}
		if attempt == maxAttempts {
			break
		}

		delay := r.Policy.Delay(attempt)
		logger.Warn("fetch attempt failed, retrying",
			"url", url, "attempt", attempt, "max_attempts", maxAttempts,
			"delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("fetch %s cancelled during backoff: %w", url, err)
		}
	}

	return nil, &TransientFetchError{
		URL:        url,
		Attempts:   maxAttempts,
		StatusCode: lastStatus,
		Cause:      lastErr,
	}
}

func (r *Retrier) attempt(ctx context.Context, url string) (*Result, error) {
	if r.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Policy.Timeout)
		defer cancel()
	}
	return r.Fetcher.Fetch(ctx, url)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
