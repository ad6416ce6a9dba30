// Package resolve turns env: and file: references in a loaded configuration
// into concrete values. It runs once before a pipeline run starts so stages
// and the fingerprint engine only ever see resolved settings.
package resolve
