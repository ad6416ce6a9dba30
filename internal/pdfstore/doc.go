// Package pdfstore keeps downloaded paper PDFs on disk so that the parse and
// refine stages of the same or a later run never fetch a document twice.
//
// The store is bounded by cache.max_pdf_cache_mb. Pruning removes the oldest
// files not used by the current process and also honours a free-space floor
// on the cache filesystem.
package pdfstore
