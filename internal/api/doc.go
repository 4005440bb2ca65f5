// Package api serves the cardscan HTTP API and defines its wire-format types.
//
// The server is an echo instance wrapping the workflow manager and the card
// collection. Handlers translate internal models into snake_case DTOs and
// return errors unchanged; a single error handler maps the services error
// markers onto HTTP status codes.
//
// # Endpoints
//
// Scan lifecycle: POST /upload/scan, POST /scan/:id/process, GET
// /scan/:id/status, GET /scan/:id/results, POST /scan/:id/accept, POST
// /scan/:id/reject, POST /scan/:id/commit, DELETE /scan/:id, GET
// /scan/:id/ai-response, GET /scan/:id/images/:image_id.
//
// History and maintenance: GET /scans, POST /scans/clear-failed.
//
// Collection: GET/POST /cards, GET/PUT/DELETE /cards/:id, POST
// /cards/:id/increment, GET /cards/:id/provenance, GET /cards/:id/scan-image,
// GET /stats.
//
// Daemon: GET /api/status and, when enabled, GET /metrics.
//
// # Errors
//
// Every failure is rendered as ErrorResponse. NotFound maps to 404; invalid
// transitions, invalid state, validation and nothing-accepted map to 400;
// storage, commit and transient failures map to 503 with retryable set; the
// rest are 500. correlation_id echoes the request id so a client report can
// be matched against daemon logs.
package api
