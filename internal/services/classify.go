package services

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"
)

// Class is the retry classification of a remote failure.
type Class int

const (
	ClassFatal Class = iota
	ClassRetryable
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassCanceled:
		return "canceled"
	default:
		return "fatal"
	}
}

// Classify decides whether a failed remote call may be retried. The second
// return value is the server-provided Retry-After hint, if any. Errors that
// match no known retryable signature are fatal so they never burn retry
// budget.
func Classify(err error) (Class, time.Duration) {
	if err == nil {
		return ClassFatal, 0
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled, 0
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429, statusErr.StatusCode == 408, statusErr.StatusCode >= 500:
			return ClassRetryable, statusErr.RetryAfter
		default:
			return ClassFatal, 0
		}
	}

	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrAuth), errors.Is(err, ErrNotFound), errors.Is(err, ErrRejected):
		return ClassFatal, 0
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout):
		return ClassRetryable, 0
	case errors.Is(err, context.DeadlineExceeded):
		return ClassRetryable, 0
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return ClassRetryable, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetryable, 0
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ClassRetryable, 0
	}
	return ClassFatal, 0
}
