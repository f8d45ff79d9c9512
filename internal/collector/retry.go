package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ErrRetriesExhausted wraps the last transient error once every retry has failed
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrorClass tells the retry loop whether an error is worth another attempt
type ErrorClass int

const (
	Permanent ErrorClass = iota
	Transient
)

// RetryPolicy defines the retry behavior for remote reads
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	BackoffFactor  float64

	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// DefaultRetryPolicy retries three times after the first attempt, waiting 1s, 2s and 4s
func DefaultRetryPolicy(logger *slog.Logger) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		BackoffFactor:  2.0,
		Logger:         logger,
	}
}

// Backoff returns the wait before retry number attempt (0-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	d := float64(p.InitialBackoff)
	for i := 0; i < attempt; i++ {
		d *= factor
	}
	return time.Duration(d)
}

// Classify decides whether err is transient. Network failures, timeouts,
// truncated bodies, 5xx and 429 are transient; everything else is permanent.
func Classify(err error) ErrorClass {
	if err == nil {
		return Permanent
	}
	// Request timeouts are transient; an expired caller context is caught by Attempt.
	if errors.Is(err, context.Canceled) {
		return Permanent
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500 {
			return Transient
		}
		return Permanent
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Permanent
}

// Attempt runs op until it succeeds, fails permanently, or runs out of retries
func Attempt[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if Classify(err) != Transient {
			return zero, err
		}
		if attempt == p.MaxRetries {
			break
		}

		backoff := p.Backoff(attempt)
		if p.Logger != nil {
			p.Logger.Warn("Transient remote error, retrying",
				"attempt", attempt+1,
				"max_retries", p.MaxRetries,
				"backoff", backoff,
				"err", err)
		}
		if err := sleep(ctx, backoff); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, p.MaxRetries, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
