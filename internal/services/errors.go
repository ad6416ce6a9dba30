package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrRateLimited   = errors.New("rate limited")
	ErrAuth          = errors.New("authentication failed")
	ErrRejected      = errors.New("content rejected")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// StatusError reports a non-2xx response from a remote collaborator.
// RetryAfter carries the server's Retry-After hint when one was sent.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, body)
}

// ErrorKind implements ErrorClassifier.
func (e *StatusError) ErrorKind() string {
	switch {
	case e.StatusCode == 429:
		return "rate_limited"
	case e.StatusCode == 401 || e.StatusCode == 403:
		return "auth"
	case e.StatusCode >= 500 || e.StatusCode == 408:
		return "transient"
	default:
		return "rejected"
	}
}

// ErrorClassifier allows errors to declare their classification for reporting.
type ErrorClassifier interface {
	ErrorKind() string
}

// KindOf returns the classification of err. Typed errors report their own
// kind; sentinel markers map to a fixed vocabulary; anything else is "unknown".
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	}
	return "unknown"
}
