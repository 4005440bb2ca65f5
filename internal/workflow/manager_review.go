package workflow

import (
	"context"
	"errors"
	"fmt"

	"cardscan/internal/commit"
	"cardscan/internal/logging"
	"cardscan/internal/notifications"
	"cardscan/internal/scan"
	"cardscan/internal/services"
)

// Selection names the results a review decision applies to. All selects
// every PENDING result and ignores IDs.
type Selection struct {
	IDs []string
	All bool
}

// AcceptResults marks the selected results ACCEPTED. It returns how many
// results changed; accepting an accepted result changes nothing.
func (m *Manager) AcceptResults(ctx context.Context, scanID string, sel Selection) (int, error) {
	return m.review(ctx, scanID, sel, scan.ResultAccepted)
}

// RejectResults marks the selected results REJECTED.
func (m *Manager) RejectResults(ctx context.Context, scanID string, sel Selection) (int, error) {
	return m.review(ctx, scanID, sel, scan.ResultRejected)
}

func (m *Manager) review(ctx context.Context, scanID string, sel Selection, status scan.ResultStatus) (int, error) {
	release := m.locks.Lock(scanID)
	defer release()

	ctx = services.WithScanID(ctx, scanID)
	op := "accept results"
	if status == scan.ResultRejected {
		op = "reject results"
	}
	snap, err := m.store.Snapshot(ctx, scanID)
	if err != nil {
		return 0, err
	}
	if snap.Status != scan.StatusReadyForReview {
		return 0, services.Wrap(services.ErrInvalidState, component, op,
			fmt.Sprintf("scan %s is %s; results can only be reviewed in %s", scanID, snap.Status, scan.StatusReadyForReview), nil)
	}

	var changed int
	switch {
	case sel.All:
		changed, err = m.store.SetAllPending(ctx, scanID, status)
	case len(sel.IDs) == 0:
		return 0, services.Wrap(services.ErrValidation, component, op, "result ids or all are required", nil)
	default:
		changed, err = m.store.SetResultStatuses(ctx, scanID, sel.IDs, status)
	}
	if err != nil {
		return 0, err
	}
	m.scanLogger(ctx).Info("results reviewed",
		logging.String(logging.FieldEventType, "results_reviewed"),
		logging.String("decision", string(status)),
		logging.Bool("all", sel.All),
		logging.Int("requested", len(sel.IDs)),
		logging.Int("changed", changed),
	)
	return changed, nil
}

// Cancel abandons a non-terminal scan and deletes its images and results.
// Recognition calls already in flight finish; their results are discarded.
func (m *Manager) Cancel(ctx context.Context, scanID string) error {
	release := m.locks.Lock(scanID)
	defer release()

	ctx = services.WithScanID(ctx, scanID)
	snap, err := m.store.Snapshot(ctx, scanID)
	if err != nil {
		return err
	}
	if snap.Status.IsTerminal() {
		return &scan.TransitionError{ScanID: scanID, From: snap.Status, To: scan.StatusCancelled}
	}
	if err := m.store.UpdateStatus(ctx, scanID, scan.StatusCancelled, ""); err != nil {
		return err
	}
	m.recorder.ObserveTransition(scan.StatusCancelled)
	m.scanLogger(ctx).Info("scan cancelled",
		logging.String(logging.FieldEventType, "scan_cancelled"),
		logging.String("previous_status", string(snap.Status)),
		logging.Int("processed_images", snap.ProcessedImages),
		logging.Int("total_images", snap.TotalImages),
	)
	m.deleteScan(ctx, scanID)
	return nil
}

// deleteScan removes a cancelled scan. Failures are logged; rows left behind
// are purged on the next start. Callers hold the scan lock.
func (m *Manager) deleteScan(ctx context.Context, scanID string) {
	logger := m.scanLogger(services.WithScanID(ctx, scanID))
	err := m.store.DeleteScan(context.WithoutCancel(ctx), scanID)
	switch {
	case err == nil:
		logger.Debug("cancelled scan removed")
	case errors.Is(err, services.ErrNotFound):
	case errors.Is(err, scan.ErrBlobCleanup):
		logging.WarnWithContext(logger, "cancelled scan removed but some image files remain", "scan_cleanup_incomplete",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the leftover files under the upload directory"),
			logging.String(logging.FieldImpact, "disk space is not reclaimed for these images"),
		)
	default:
		logging.WarnWithContext(logger, "cancelled scan could not be removed", "scan_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check scan database access"),
			logging.String(logging.FieldImpact, "the scan is purged on the next daemon start"),
		)
	}
}

// Commit adds the scan's accepted results to the collection.
func (m *Manager) Commit(ctx context.Context, scanID string) (commit.Result, error) {
	if m.committer == nil {
		return commit.Result{}, services.Wrap(services.ErrConfiguration, component, "commit", "commit engine not configured", nil)
	}
	release := m.locks.Lock(scanID)
	defer release()

	ctx = services.WithScanID(ctx, scanID)
	result, err := m.committer.Commit(ctx, scanID)
	m.recorder.ObserveCommit(result, err)
	if err != nil {
		if errors.Is(err, services.ErrCommit) {
			m.setLastError(err)
			m.notify(ctx, notifications.EventError, notifications.Payload{
				"context": "commit of scan " + scanID,
				"error":   err,
			})
		}
		return commit.Result{}, err
	}
	m.recorder.ObserveTransition(scan.StatusCompleted)
	m.setLastScan(scanID)
	m.notify(ctx, notifications.EventScanCommitted, notifications.Payload{
		"scanID":       scanID,
		"cardsCreated": result.CardsCreated,
		"newCards":     result.NewCards,
		"stackedCards": result.StackedCards,
	})
	return result, nil
}
