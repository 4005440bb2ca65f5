// Package apiclient is the HTTP client the cardscan CLI uses to drive the
// daemon. Responses decode into the api package DTOs; failed requests return
// *Error, which unwraps to the matching services marker so callers can use
// errors.Is and services.Retryable exactly as they would in-process.
package apiclient
