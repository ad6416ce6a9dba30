// Package registry persists the papers autosumm has seen and the history of
// its runs in SQLite.
//
// Items are upserted as pending when discovered, mirror the coordinator's
// ledger while a run is in flight, and receive their final outcome when the
// run ends. Failures count attempts; an item that keeps failing is pruned
// once its attempts reach the configured retry budget. Items left in
// progress by an interrupted run are reset to pending on the next start.
//
// The registry is bookkeeping, not a cache: stage results live in the cache
// package and are never read from here.
package registry
