// Package workflow coordinates work items through the pipeline stages.
//
// The Coordinator runs the enabled stages of a definition list in fixed order
// for every item. Before each invocation it fingerprints the item, the stage,
// the stage's effective configuration, and the fingerprints of the stages the
// item already passed, and consults the result cache under that token. Misses
// run the stage executor through the rate-limited wrapper for the stage's
// provider, bounded by a per-stage worker pool, and store the result.
//
// The Ledger tracks where every item stands during a run and produces the
// run manifest. Per-item failures stay in the ledger; cache and resolution
// failures abort the run. Disabled stages contribute nothing to the chain, so
// toggling an optional stage only invalidates the stages after it.
package workflow
