package jobs

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError marks a handler failure as transient. The engine reschedules
// the job with exponential backoff until attempts are exhausted. A plain
// error returned by a handler is treated the same way.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a RetryableError.
func Retryable(err error) error {
	return RetryableError{Err: err}
}

// PermanentError marks a handler failure as final. The job fails immediately
// without consuming remaining attempts.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	return PermanentError{Err: err}
}

// RateLimitedError reschedules the job after RetryAfter without consuming an
// attempt. Handlers return it when an upstream platform throttled the call.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e RateLimitedError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic recovered from a handler. It counts as retryable.
type PanicError struct {
	Value any
	Stack []byte
}

func (e PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe PermanentError
	return errors.As(err, &pe)
}

// AsRateLimited extracts a RateLimitedError from err.
func AsRateLimited(err error) (RateLimitedError, bool) {
	var rl RateLimitedError
	ok := errors.As(err, &rl)
	return rl, ok
}
