// Package metrics exposes Prometheus instrumentation for the daemon.
//
// A single Metrics value implements the observer hooks used by the
// recognition worker and the workflow manager, and records HTTP traffic for
// the API server. Everything is registered against an explicit registry so
// tests can build isolated instances.
package metrics
