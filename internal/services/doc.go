// Package services defines shared utilities consumed by the scan workflow and
// its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp scan IDs, image IDs, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper. Every failure leaving the
//     scan store, recognition worker, state machine, or commit engine carries
//     one marker so callers can tell "retry me" from "fix your request" from
//     "recorded, no action" via Classify.
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability, retries) stays uniform.
package services
