// Package fingerprint derives cache keys from an item identity, a stage
// name, and the stage's effective configuration.
//
// The configuration is canonicalized before hashing so that map order and
// number formatting never change a token, while any edit to a value (a
// prompt, a model name, a numeric parameter) always does. Values that still
// look like env: or file: references are rejected: hashing a placeholder
// would silently serve results computed under a different configuration.
package fingerprint
