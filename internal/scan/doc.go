// Package scan persists scan sessions, their uploaded images, and per-image
// recognition results in SQLite.
//
// The store enforces storage guarantees only: atomic scan creation, the
// status transition table (as a compare-and-swap inside a transaction),
// idempotent result appends keyed by result id, and cleanup of stored image
// files on delete. Business rules such as when a scan may be committed live in
// the workflow package, which also uses Locks to serialize work per scan.
package scan
