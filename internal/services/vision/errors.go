package vision

import (
	"fmt"
	"strings"

	"cardscan/internal/services"
)

// RefusalError reports that the model declined to analyze an image. It is a
// recorded outcome, never retried.
type RefusalError struct {
	Reason string
	Raw    string
}

func (e *RefusalError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("vision: model refused to analyze image: %s", summarizePayloadSnippet(reason))
}

// Unwrap lets errors.Is match services.ErrRecognitionRefusal.
func (e *RefusalError) Unwrap() error {
	return services.ErrRecognitionRefusal
}

// ServiceError reports a failed or unusable exchange with the vision endpoint.
type ServiceError struct {
	Op       string
	Attempts int
	Raw      string
	Err      error
}

func (e *ServiceError) Error() string {
	msg := "vision: " + e.Op
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{services.ErrRecognitionService}
	}
	return []error{services.ErrRecognitionService, e.Err}
}
