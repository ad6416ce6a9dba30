// Package item defines the work item flowing through the pipeline, its
// lifecycle status, and the tagged Payload variant every stage produces.
//
// It is pure data: no I/O, no logging.
package item
