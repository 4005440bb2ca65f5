// Package preflight provides readiness checks for external services
// and filesystem paths that cardscan depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs each failure as a warning
//     so misconfiguration shows up before the first scan is processed.
//   - The CLI "cardscan status" command runs the same checks locally to
//     display service health next to the daemon's own report.
//
// Each remote check is gated by its config toggle -- disabled features are skipped.
package preflight
