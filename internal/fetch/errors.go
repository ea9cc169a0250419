package fetch

import (
	"errors"
	"fmt"
)

// Reason explains why a fetch failed permanently.
type Reason string

// Permanent failure reasons
const (
	ReasonEmptyContent Reason = "empty_content"
	ReasonUpstream     Reason = "upstream_status"
	ReasonConfig       Reason = "configuration"
	ReasonInvalidURL   Reason = "invalid_url"
)

// TransientFetchError is returned when every attempt failed with a retryable error.
type TransientFetchError struct {
	URL        string
	Attempts   int
	StatusCode int // last upstream status, 0 for transport errors
	Cause      error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch error for %s: gave up after %d attempts (last status %d): %v",
			e.URL, e.Attempts, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: gave up after %d attempts: %v", e.URL, e.Attempts, e.Cause)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Cause
}

// PermanentFetchError is returned for failures that retrying cannot fix.
type PermanentFetchError struct {
	URL        string
	StatusCode int
	Body       string
	Reason     Reason
	Cause      error
}

func (e *PermanentFetchError) Error() string {
	switch {
	case e.Reason == ReasonUpstream:
		return fmt.Sprintf("fetch error for %s: non-success status %d: %s", e.URL, e.StatusCode, e.Body)
	case e.Cause != nil:
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Reason, e.Cause)
	default:
		return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Reason)
	}
}

func (e *PermanentFetchError) Unwrap() error {
	return e.Cause
}

// retryableError marks a single failed attempt that may succeed if repeated.
type retryableError struct {
	StatusCode int
	Cause      error
}

func (e *retryableError) Error() string {
	return e.Cause.Error()
}

func (e *retryableError) Unwrap() error {
	return e.Cause
}

// Retryable wraps err so that Retrier will try again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{Cause: err}
}

// IsPermanent reports whether err is a PermanentFetchError.
func IsPermanent(err error) bool {
	var pe *PermanentFetchError
	return errors.As(err, &pe)
}

func isRetryable(err error) (*retryableError, bool) {
	var re *retryableError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
