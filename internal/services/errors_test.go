package services_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"autosumm/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "parse", "pdftotext", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"parse", "pdftotext", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		want       services.Class
		retryAfter time.Duration
	}{
		{"too many requests", &services.StatusError{StatusCode: 429, RetryAfter: 2 * time.Second}, services.ClassRetryable, 2 * time.Second},
		{"server error", &services.StatusError{StatusCode: 503}, services.ClassRetryable, 0},
		{"request timeout", &services.StatusError{StatusCode: 408}, services.ClassRetryable, 0},
		{"unauthorized", &services.StatusError{StatusCode: 401}, services.ClassFatal, 0},
		{"bad request", &services.StatusError{StatusCode: 400}, services.ClassFatal, 0},
		{"validation marker", services.Wrap(services.ErrValidation, "rate", "decode", "missing key", nil), services.ClassFatal, 0},
		{"transient marker", services.Wrap(services.ErrTransient, "rate", "decode", "garbled", nil), services.ClassRetryable, 0},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), services.ClassRetryable, 0},
		{"canceled", fmt.Errorf("call: %w", context.Canceled), services.ClassCanceled, 0},
		{"short read", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), services.ClassRetryable, 0},
		{"unknown", errors.New("mystery"), services.ClassFatal, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, after := services.Classify(tt.err)
			if got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
			if after != tt.retryAfter {
				t.Fatalf("retryAfter = %s, want %s", after, tt.retryAfter)
			}
		})
	}
}

func TestRunFatalVersusItemFailure(t *testing.T) {
	runFatal := []error{
		&services.ConfigResolutionError{Failures: []services.ResolutionFailure{{Path: "rate.api_key", Reference: "env:MISSING"}}},
		&services.CacheConsistencyError{Token: "abc", Stage: "rate"},
		fmt.Errorf("put: %w", &services.CacheIOError{Op: "put", Err: errors.New("disk full")}),
	}
	for _, err := range runFatal {
		if !services.IsRunFatal(err) {
			t.Fatalf("expected run fatal for %v", err)
		}
		if services.IsItemFailure(err) {
			t.Fatalf("did not expect item failure for %v", err)
		}
	}

	itemErrs := []error{
		&services.StageFatalError{Stage: "rate", ItemID: "a", Err: errors.New("bad")},
		&services.StageExhaustedError{Stage: "rate", ItemID: "a", Attempts: 4, Err: errors.New("429")},
	}
	for _, err := range itemErrs {
		if services.IsRunFatal(err) {
			t.Fatalf("did not expect run fatal for %v", err)
		}
		if !services.IsItemFailure(err) {
			t.Fatalf("expected item failure for %v", err)
		}
	}
}

func TestKindOf(t *testing.T) {
	inner := &services.StatusError{StatusCode: 429}
	exhausted := &services.StageExhaustedError{Stage: "embed", ItemID: "x", Attempts: 3, Err: inner}
	if got := services.KindOf(exhausted); got != "stage_exhausted" {
		t.Fatalf("KindOf(exhausted) = %q", got)
	}
	if got := services.KindOf(inner); got != "rate_limited" {
		t.Fatalf("KindOf(status) = %q", got)
	}
	if got := services.KindOf(services.Wrap(services.ErrNotFound, "", "", "gone", nil)); got != "not_found" {
		t.Fatalf("KindOf(not found) = %q", got)
	}
	if got := services.KindOf(errors.New("x")); got != "unknown" {
		t.Fatalf("KindOf(plain) = %q", got)
	}
}

func TestConfigResolutionErrorUnwrapsConfiguration(t *testing.T) {
	cause := errors.New("no such file")
	err := &services.ConfigResolutionError{Failures: []services.ResolutionFailure{
		{Path: "rate.criteria", Reference: "file:criteria.yaml", Err: cause},
	}}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatal("expected configuration marker")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if !strings.Contains(err.Error(), "rate.criteria") {
		t.Fatalf("expected path in message, got %q", err.Error())
	}
}
