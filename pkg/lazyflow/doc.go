// Package lazyflow provides a minimal public façade for building workflows
// and reading their results without importing internal packages. It
// re-exports the core graph types for convenience and exposes a Runtime
// that builds workflows and keeps project snapshots.
package lazyflow
