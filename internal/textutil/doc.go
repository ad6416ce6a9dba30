// Package textutil provides the text helpers shared by the stage executors:
// approximate token accounting, truncation, sentence chunking for embedding,
// vector similarity, and filename sanitization.
//
// Token counts are estimates at four characters per token, close to what
// common BPE tokenizers produce for English prose. They size requests; they
// are not exact.
package textutil
