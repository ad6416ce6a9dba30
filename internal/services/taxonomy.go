package services

import (
	"errors"
	"fmt"
	"strings"
)

// ResolutionFailure describes one configuration value that could not be
// resolved to a concrete value.
type ResolutionFailure struct {
	Path      string
	Reference string
	Err       error
}

func (f ResolutionFailure) String() string {
	ref := f.Reference
	if ref == "" {
		ref = "<value>"
	}
	if f.Err == nil {
		return fmt.Sprintf("%s (%s)", f.Path, ref)
	}
	return fmt.Sprintf("%s (%s): %v", f.Path, ref, f.Err)
}

// ConfigResolutionError reports configuration references that could not be
// resolved. It aborts a run before any item is processed.
type ConfigResolutionError struct {
	Failures []ResolutionFailure
}

func (e *ConfigResolutionError) Error() string {
	if len(e.Failures) == 0 {
		return "config resolution failed"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return "config resolution failed: " + strings.Join(parts, "; ")
}

func (e *ConfigResolutionError) Unwrap() []error {
	out := []error{ErrConfiguration}
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}

func (e *ConfigResolutionError) ErrorKind() string { return "config_resolution" }

// CacheConsistencyError reports a second, different result written under a
// fingerprint that still holds a valid entry.
type CacheConsistencyError struct {
	Token string
	Stage string
}

func (e *CacheConsistencyError) Error() string {
	return fmt.Sprintf("cache consistency violation: stage %s fingerprint %s already holds a different result", e.Stage, shortToken(e.Token))
}

func (e *CacheConsistencyError) ErrorKind() string { return "cache_consistency" }

// CacheIOError reports a storage-layer failure in the cache or registry.
type CacheIOError struct {
	Op  string
	Err error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }

func (e *CacheIOError) ErrorKind() string { return "cache_io" }

// StageFatalError reports a permanent per-item stage failure.
type StageFatalError struct {
	Stage  string
	ItemID string
	Err    error
}

func (e *StageFatalError) Error() string {
	return fmt.Sprintf("stage %s failed for %s: %v", e.Stage, e.ItemID, e.Err)
}

func (e *StageFatalError) Unwrap() error { return e.Err }

func (e *StageFatalError) ErrorKind() string { return "stage_fatal" }

// StageExhaustedError reports a per-item stage failure after the retry budget
// ran out.
type StageExhaustedError struct {
	Stage    string
	ItemID   string
	Attempts int
	Err      error
}

func (e *StageExhaustedError) Error() string {
	return fmt.Sprintf("stage %s gave up on %s after %d attempts: %v", e.Stage, e.ItemID, e.Attempts, e.Err)
}

func (e *StageExhaustedError) Unwrap() error { return e.Err }

func (e *StageExhaustedError) ErrorKind() string { return "stage_exhausted" }

// IsRunFatal reports whether err must abort the whole run rather than a
// single item.
func IsRunFatal(err error) bool {
	var resolution *ConfigResolutionError
	var consistency *CacheConsistencyError
	var cacheIO *CacheIOError
	return errors.As(err, &resolution) || errors.As(err, &consistency) || errors.As(err, &cacheIO)
}

// IsItemFailure reports whether err is a contained per-item failure.
func IsItemFailure(err error) bool {
	var fatal *StageFatalError
	var exhausted *StageExhaustedError
	return errors.As(err, &fatal) || errors.As(err, &exhausted)
}

func shortToken(token string) string {
	if len(token) > 12 {
		return token[:12]
	}
	return token
}
