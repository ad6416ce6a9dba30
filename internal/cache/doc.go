// Package cache persists stage results keyed by fingerprint.
//
// Entries live in a SQLite database opened through sqlitedb with full
// synchronous commits, so a Put that returned survives a crash. A token maps
// to at most one result while its entry is valid: re-writing the same result
// is a no-op and writing a different one fails with
// services.CacheConsistencyError. Expired entries read as misses and are
// removed by Sweep.
//
// The same database keeps the delivered ledger, the list of papers already
// sent in a digest, which survives InvalidateAll.
package cache
