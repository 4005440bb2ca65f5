// Package logging assembles structured slog loggers and formatting helpers used
// across cardscan.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so scan processing code can tag log lines
// with scan IDs, image IDs, and correlation IDs. Console output is colorized
// only when stdout is a terminal. A no-op logger is provided for tests.
package logging
