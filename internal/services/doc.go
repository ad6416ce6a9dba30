// Package services defines shared utilities consumed by the stage executors,
// the run coordinator, and the remote adapters.
//
// Key responsibilities:
//   - Context helpers that stamp work item IDs, stage names, run IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and the typed run errors
//     (ConfigResolutionError, CacheConsistencyError, CacheIOError,
//     StageFatalError, StageExhaustedError) that decide whether a failure is
//     contained to one item or aborts the run.
//   - Classify, the single place where a remote failure is judged retryable
//     or fatal.
package services
