package poller

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by PollOnce while another fetch is outstanding.
var ErrBusy = errors.New("poll already in progress")

// ReadError is a single failed attempt. It is transient while the retry
// budget holds.
type ReadError struct {
	Attempt int
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// RetryExhaustedError is raised once the failure run exceeds the budget.
type RetryExhaustedError struct {
	Retries  int
	Failures int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("unable to read data from NUT after %d retries (%d consecutive failures): %v",
		e.Retries, e.Failures, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
