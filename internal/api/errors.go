package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"cardscan/internal/logging"
	"cardscan/internal/services"
)

// errorStatus maps an error onto the HTTP status and the short error code
// clients switch on.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusBadRequest, "invalid_transition"
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, services.ErrNothingAccepted):
		return http.StatusBadRequest, "nothing_accepted"
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, services.ErrCommit):
		return http.StatusServiceUnavailable, "commit_failed"
	case errors.Is(err, services.ErrStorage):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrRecognitionService):
		return http.StatusServiceUnavailable, "temporarily_unavailable"
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, codeForStatus(httpErr.Code)
	}
	return http.StatusInternalServerError, "internal_error"
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	}
	if status >= 500 {
		return "internal_error"
	}
	return "bad_request"
}

// NewErrorResponse builds the error body for err.
func NewErrorResponse(err error, correlationID string) ErrorResponse {
	status, code := errorStatus(err)
	kind := services.Classify(err)
	if kind == services.KindInternal && status < 500 {
		kind = services.KindFixRequest
	}
	message := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && !isMarked(err) {
		message = fmt.Sprint(httpErr.Message)
	}
	return ErrorResponse{
		Error:         code,
		Message:       message,
		Code:          status,
		Kind:          string(kind),
		Retryable:     status == http.StatusServiceUnavailable,
		CorrelationID: correlationID,
	}
}

func isMarked(err error) bool {
	return services.Classify(err) != services.KindInternal
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	resp := NewErrorResponse(err, requestID(c))
	logger := logging.WithContext(c.Request().Context(), s.logger)
	attrs := []logging.Attr{
		logging.String("method", c.Request().Method),
		logging.String("route", c.Path()),
		logging.Int("status", resp.Code),
		logging.Error(err),
	}
	switch {
	case resp.Code >= 500 && resp.Retryable:
		logging.WarnWithContext(logger, "api request failed", "api_request_unavailable", append(attrs,
			logging.String(logging.FieldErrorHint, "check storage and database health; the client may retry"),
			logging.String(logging.FieldImpact, "request was not applied"),
		)...)
	case resp.Code >= 500:
		logging.ErrorWithContext(logger, "api request failed", "api_request_error", append(attrs,
			logging.String(logging.FieldErrorHint, "inspect the error and daemon logs around this request"),
		)...)
	default:
		logger.Debug("api request rejected", logging.Args(attrs...)...)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(resp.Code)
	} else {
		err = c.JSON(resp.Code, resp)
	}
	if err != nil {
		logger.Warn("failed to write error response", logging.Error(err))
	}
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	id, _ := services.RequestIDFromContext(c.Request().Context())
	return id
}
