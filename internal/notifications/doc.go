// Package notifications delivers scan events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Enumerated event
// types cover the scan milestones a collector cares about: results waiting for
// review, failed recognition runs, and commits into the collection.
//
// Workflow code depends only on the Service interface.
package notifications
