// Package config loads, normalizes, and validates autosumm configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DEEPSEEK_API_KEY for provider credentials. Settings written as env: or
// file: references are kept verbatim here; package resolve substitutes them
// once per run.
//
// StageConfig exposes the per-stage effective configuration used for cache
// fingerprints, so any setting that changes a stage's output must appear
// there.
package config
