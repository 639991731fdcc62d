package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Policy is a fixed-delay retry policy shared by every network operation.
type Policy struct {
	// Attempts is the total number of tries, including the first one
	Attempts int

	// Delay is the pause between two consecutive tries
	Delay time.Duration
}

// DefaultPolicy returns three attempts spaced three seconds apart.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Delay:    3 * time.Second,
	}
}

// RetryError is returned once every attempt has failed.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx is done.
// It returns the number of attempts made. The delay only blocks the caller.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attempt, err
		}
		if !retryable(err) {
			return attempt, &RetryError{Attempts: attempt, Err: err}
		}

		if logger != nil {
			logger.Warn("fetch attempt failed", "name", name, "attempt", attempt, "of", attempts, "error", err)
		}

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		}
	}

	return attempts, &RetryError{Attempts: attempts, Err: lastErr}
}

// retryable reports whether another attempt can change the outcome.
// Client errors other than 408 and 429 are permanent.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 408, httpErr.StatusCode == 429:
			return true
		case httpErr.StatusCode >= 400 && httpErr.StatusCode < 500:
			return false
		}
	}
	return !errors.Is(err, ErrUnresolvable)
}
