package backoff

import (
	"context"
	"errors"
)

// ErrExhausted is returned when all retry attempts have failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Result holds the outcome of a retried operation.
type Result[T any] struct {
	// Value is the successful result.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// Retry runs fn up to maxAttempts times, sleeping between attempts according
// to the policy. fn receives the 1-indexed attempt number. A nil retryable
// predicate retries every error; otherwise a non-retryable error stops the
// loop immediately and is returned as-is.
//
// Context cancellation is checked before each attempt and honored during
// backoff sleeps.
func Retry[T any](
	ctx context.Context,
	p Policy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(attempt int) (T, error),
) (Result[T], error) {
	var res Result[T]

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		if err := ctx.Err(); err != nil {
			return res, err
		}

		value, err := fn(attempt)
		if err == nil {
			res.Value = value
			return res, nil
		}
		res.LastError = err

		if retryable != nil && !retryable(err) {
			return res, err
		}
		if attempt < maxAttempts {
			if err := Sleep(ctx, p, attempt); err != nil {
				return res, err
			}
		}
	}

	return res, ErrExhausted
}

// RetrySimple retries a function without a return value using the given
// policy, treating every error as retryable.
func RetrySimple(ctx context.Context, p Policy, maxAttempts int, fn func() error) error {
	_, err := Retry(ctx, p, maxAttempts, nil, func(_ int) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
