package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidState       = errors.New("invalid state")
	ErrValidation         = errors.New("validation error")
	ErrConfiguration      = errors.New("configuration error")
	ErrRecognitionService = errors.New("recognition service error")
	ErrRecognitionRefusal = errors.New("recognition refused")
	ErrStorage            = errors.New("storage error")
	ErrCommit             = errors.New("commit error")
	ErrNothingAccepted    = errors.New("nothing accepted")
	ErrTransient          = errors.New("transient failure")
)

// Kind groups errors by what the caller should do about them.
type Kind string

const (
	// KindRetry marks transient failures where repeating the same call may succeed.
	KindRetry Kind = "retry"
	// KindFixRequest marks failures the caller resolves by changing the request or re-polling.
	KindFixRequest Kind = "fix_request"
	// KindTerminal marks recorded outcomes that need no action.
	KindTerminal Kind = "terminal"
	// KindInternal covers everything unclassified.
	KindInternal Kind = "internal"
)

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to the action the caller should take.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrRecognitionRefusal):
		return KindTerminal
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrNothingAccepted),
		errors.Is(err, ErrValidation):
		return KindFixRequest
	case errors.Is(err, ErrRecognitionService),
		errors.Is(err, ErrStorage),
		errors.Is(err, ErrCommit),
		errors.Is(err, ErrTransient):
		return KindRetry
	default:
		return KindInternal
	}
}

// Retryable reports whether repeating the failed operation may succeed.
func Retryable(err error) bool {
	return Classify(err) == KindRetry
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
