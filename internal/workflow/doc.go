// Package workflow drives scans through their lifecycle.
//
// The Manager owns every status change after upload: it moves a scan into
// PROCESSING, runs the recognition stage in the background, finalizes the
// scan to READY_FOR_REVIEW or FAILED, applies review decisions, and hands
// reviewed scans to the commit engine. Cancellation deletes the scan
// outright; recognition calls already in flight finish and their results are
// discarded by the store.
//
// Mutating calls for one scan are serialized through a per-scan lock, and at
// most one recognition run exists per scan. Runs interrupted by Stop leave
// the scan PROCESSING; Start resumes them and only unprocessed images are
// dispatched again.
package workflow
