package workflow

import (
	"context"
	"errors"
	"strings"

	"cardscan/internal/logging"
	"cardscan/internal/notifications"
	"cardscan/internal/scan"
	"cardscan/internal/services"
)

// failScan moves a PROCESSING scan to FAILED with message as its error text.
func (m *Manager) failScan(ctx context.Context, scanID, message string, cause error) {
	logger := m.scanLogger(ctx)
	attrs := []logging.Attr{
		logging.String("error_message", message),
		logging.String("error_kind", string(services.Classify(cause))),
		logging.String(logging.FieldErrorHint, "inspect the per-image responses with `cardscan scan ai-response`"),
	}
	if cause != nil {
		attrs = append(attrs, logging.Error(cause))
		m.setLastError(cause)
	}

	if err := m.store.UpdateStatus(ctx, scanID, scan.StatusFailed, message); err != nil {
		if errors.Is(err, services.ErrInvalidTransition) || errors.Is(err, services.ErrNotFound) {
			logger.Info("scan left processing before it could be failed", logging.Error(err))
			return
		}
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to persist scan failure", "scan_failure_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the scan stays PROCESSING and is retried on the next start"),
		)
		return
	}
	m.recorder.ObserveTransition(scan.StatusFailed)
	m.setLastScan(scanID)
	logging.ErrorWithContext(logger, "scan failed", "scan_failed", attrs...)
	m.notify(ctx, notifications.EventScanFailed, notifications.Payload{
		"scanID": scanID,
		"reason": message,
	})
}

// failureMessage keeps the readable tail of a wrapped error.
func failureMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown error"
	}
	return msg
}
