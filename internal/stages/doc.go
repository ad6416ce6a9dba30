// Package stages implements the per-item stage executors of the digest
// pipeline and assembles them into stage definitions from configuration.
//
// Scoring phase: parse (download and extract text), embed (similarity to the
// reader's interests), rate (LLM criteria ratings). Digest phase, for the
// selected papers only: refine (optional page transcription with a vision
// model) and summarize.
//
// Executors make remote calls through narrow interfaces and never retry;
// the coordinator runs them behind the rate-limited wrapper of their
// provider and caches what they return.
package stages
