// Package llm provides chat completion and embedding clients for the model
// providers the pipeline talks to.
//
// Two wire flavors are supported: OpenAI-compatible endpoints
// (/chat/completions, /embeddings) used by most hosted providers, and the
// native Ollama API (/api/chat, /api/embeddings). Chat requests may carry
// page images for vision models.
//
// The client makes exactly one HTTP request per call. Non-2xx responses are
// returned as *services.StatusError with the Retry-After hint parsed; empty or
// undecodable replies are marked services.ErrTransient; refusals are marked
// services.ErrRejected. Retry and rate limiting belong to package ratelimit.
//
// DecodeLLMJSON tolerates code fences and prose around a JSON answer.
package llm
