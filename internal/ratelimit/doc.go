// Package ratelimit throttles and retries remote calls made by pipeline
// stages.
//
// A Registry owns one Wrapper per (provider, stage) pair. Wrappers of one
// provider share a token bucket (golang.org/x/time/rate) sized from the
// provider's requests_per_minute; retry state and Retry-After pauses stay
// per pair, so a slow provider never holds back calls to another. Invoke runs a call under the
// wrapper: it waits for a token, classifies failures with services.Classify,
// retries retryable ones with jittered exponential backoff, and turns the
// final failure into StageFatalError or StageExhaustedError.
package ratelimit
