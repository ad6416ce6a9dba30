// Package stage defines the fixed pipeline stage order, the Executor
// contract every stage implements, and the Definition that binds an executor
// to its worker pool, provider, and effective configuration.
package stage
