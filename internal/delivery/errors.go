// Package delivery performs outbound calls with quality-classified
// retries, payload shaping, and replay triggering for the offline queue.
package delivery

import (
	"errors"
	"fmt"
)

// ClientError is a 4xx-equivalent response from the target. It is never
// retried; the caller sees it after the first attempt.
type ClientError struct {
	Target     string
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error from %s: status %d", e.Target, e.StatusCode)
}

// TransientError is a failure worth retrying: a timeout, a transport
// error, or a 5xx-equivalent response.
type TransientError struct {
	Target     string
	StatusCode int
	Cause      error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient failure calling %s: %v", e.Target, e.Cause)
	}
	return fmt.Sprintf("transient failure calling %s: status %d", e.Target, e.StatusCode)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// ExhaustedError wraps the last transient failure once the retry policy
// is spent.
type ExhaustedError struct {
	Target   string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("delivery to %s failed after %d attempts: %v", e.Target, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsClientError reports whether err is (or wraps) a non-retryable
// client error.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is (or wraps) a retryable failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
