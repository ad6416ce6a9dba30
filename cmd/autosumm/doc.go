// Package main hosts the autosumm CLI entrypoint and command graph.
//
// The Cobra command tree runs digest runs and inspects the state they leave
// behind: the result cache, the PDF store, the item registry, and run
// history. It also scaffolds and checks configuration and reports external
// tool availability.
//
// Keep this package lean: the pipeline lives in internal/runner and the
// stores it drives; commands here load configuration, open stores, and
// format output.
package main
