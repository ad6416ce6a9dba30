// Package runner executes one digest run end to end.
//
// A run holds the single-run file lock, resolves configuration references,
// opens the result cache and the item registry, discovers new papers for the
// day's category, and drives them through two coordinator phases: scoring
// (parse, embed, rate) and digest (refine, summarize) with selection in
// between. The survivors are rendered and mailed; per-item outcomes, the run
// record, and a push notification close the run.
//
// The ledger observer mirrors every item transition into the registry, so a
// run killed mid-way leaves in-progress rows that the next run resets.
package runner
