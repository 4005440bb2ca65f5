package workflow

import (
	"context"
	"errors"

	"cardscan/internal/logging"
	"cardscan/internal/notifications"
	"cardscan/internal/scan"
)

func (m *Manager) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		logger := m.scanLogger(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, notification not sent", logging.String("event", string(event)))
			return
		}
		logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

func (m *Manager) notifyReady(ctx context.Context, scanID string, resultCount int) {
	needsReview := 0
	if resultCount > 0 {
		results, err := m.store.ResultsWithStatus(ctx, scanID, scan.ResultPending)
		if err != nil {
			m.scanLogger(ctx).Debug("review count unavailable for notification", logging.Error(err))
		}
		for _, res := range results {
			if res.RequiresReview {
				needsReview++
			}
		}
	}
	m.notify(ctx, notifications.EventScanReady, notifications.Payload{
		"scanID":      scanID,
		"results":     resultCount,
		"needsReview": needsReview,
	})
}
