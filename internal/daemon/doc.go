// Package daemon coordinates the long-running cardscan process.
//
// It wires configuration, the workflow manager, the collection, and the HTTP
// API into a single lifecycle with flock-based locking to prevent multiple
// instances. Start acquires the lock, resumes the workflow, and begins
// serving; Stop reverses those steps. Close additionally releases the stores
// registered with WithCloser.
//
// Keep orchestration logic here: scan processing lives in workflow and
// recognition, request handling lives in api. Process assembly from config
// lives in daemonrun.
package daemon
