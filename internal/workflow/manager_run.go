package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cardscan/internal/logging"
	"cardscan/internal/notifications"
	"cardscan/internal/scan"
	"cardscan/internal/services"
)

// Start begins background processing. Scans left PROCESSING by an earlier
// daemon are resumed and leftover CANCELLED scans are purged.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.worker == nil {
		m.mu.Unlock()
		return errors.New("recognition stage not configured")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.runCtx = runCtx
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.purgeCancelled(ctx)
	m.resumeProcessing(ctx)
	return nil
}

// Stop cancels dispatching and waits for runs to exit. Interrupted scans stay
// PROCESSING.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// CreateScan stores the uploaded images as a new CREATED scan.
func (m *Manager) CreateScan(ctx context.Context, uploads []scan.Upload) (*scan.Scan, error) {
	sc, err := m.store.CreateScan(ctx, uploads)
	if err != nil {
		return nil, err
	}
	m.recorder.ObserveTransition(scan.StatusCreated)
	logging.WithContext(services.WithScanID(ctx, sc.ID), m.logger).Info("scan created",
		logging.String(logging.FieldEventType, "scan_created"),
		logging.Int("images", len(sc.Images)),
	)
	return sc, nil
}

// StartProcessing moves a CREATED scan to PROCESSING and launches its
// recognition run. Calling it again while the scan is PROCESSING launches
// nothing new.
func (m *Manager) StartProcessing(ctx context.Context, scanID string) (scan.Snapshot, error) {
	if !m.IsRunning() {
		return scan.Snapshot{}, services.Wrap(services.ErrTransient, component, "start processing", "workflow is not running", nil)
	}
	release := m.locks.Lock(scanID)
	defer release()

	ctx = services.WithScanID(ctx, scanID)
	snap, err := m.store.Snapshot(ctx, scanID)
	if err != nil {
		return scan.Snapshot{}, err
	}
	switch snap.Status {
	case scan.StatusCreated:
		if err := m.store.UpdateStatus(ctx, scanID, scan.StatusProcessing, ""); err != nil {
			return scan.Snapshot{}, err
		}
		m.recorder.ObserveTransition(scan.StatusProcessing)
		m.notify(ctx, notifications.EventScanStarted, notifications.Payload{"scanID": scanID})
	case scan.StatusProcessing:
	default:
		return scan.Snapshot{}, &scan.TransitionError{ScanID: scanID, From: snap.Status, To: scan.StatusProcessing}
	}
	m.launch(scanID)
	return m.store.Snapshot(ctx, scanID)
}

// launch starts a run for scanID unless one is active. Callers hold the scan lock.
func (m *Manager) launch(scanID string) bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	if _, active := m.runs[scanID]; active {
		m.mu.Unlock()
		return false
	}
	m.runs[scanID] = struct{}{}
	active := len(m.runs)
	ctx := m.runCtx
	m.wg.Add(1)
	m.mu.Unlock()

	m.recorder.SetActiveRuns(active)
	go m.runScan(ctx, scanID)
	return true
}

func (m *Manager) dropRun(scanID string) {
	m.mu.Lock()
	delete(m.runs, scanID)
	active := len(m.runs)
	m.mu.Unlock()
	m.recorder.SetActiveRuns(active)
}

func (m *Manager) runScan(ctx context.Context, scanID string) {
	defer m.wg.Done()
	ctx = services.WithStage(services.WithScanID(ctx, scanID), "recognition")
	logger := m.scanLogger(ctx)
	started := time.Now()
	logger.Info("scan processing started", logging.String(logging.FieldEventType, "scan_run_start"))

	var runErr error
	for attempt := 1; ; attempt++ {
		runErr = m.executeOnce(ctx, scanID)
		if runErr == nil || ctx.Err() != nil || !errors.Is(runErr, services.ErrStorage) || attempt >= m.runAttempts {
			break
		}
		logging.WarnWithContext(logger, "scan run hit a storage error; retrying", "scan_run_retry",
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", m.retryDelay),
			logging.Error(runErr),
			logging.String(logging.FieldErrorHint, "check disk space and scan database health"),
			logging.String(logging.FieldImpact, "unprocessed images are dispatched again"),
		)
		select {
		case <-ctx.Done():
		case <-time.After(m.retryDelay):
		}
	}
	m.finishRun(ctx, scanID, runErr, time.Since(started))
}

func (m *Manager) executeOnce(ctx context.Context, scanID string) error {
	sc, err := m.store.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	if err := m.worker.Prepare(ctx, sc); err != nil {
		return err
	}
	return m.worker.Execute(ctx, sc)
}

// finishRun settles the scan once its run ends. It holds the scan lock so a
// concurrent cancel either lands before finalization or sees the final status.
func (m *Manager) finishRun(ctx context.Context, scanID string, runErr error, elapsed time.Duration) {
	release := m.locks.Lock(scanID)
	defer release()
	defer m.dropRun(scanID)

	logger := m.scanLogger(ctx)
	if ctx.Err() != nil {
		logger.Info("scan processing interrupted; resumes on next start",
			logging.String(logging.FieldEventType, "scan_run_interrupted"),
			logging.Duration("elapsed", elapsed),
		)
		return
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, services.ErrNotFound), errors.Is(runErr, services.ErrInvalidState):
		logger.Info("scan left processing during its run",
			logging.String(logging.FieldEventType, "scan_run_abandoned"),
			logging.String("reason", runErr.Error()),
		)
		return
	case errors.Is(runErr, services.ErrStorage):
		// State stays PROCESSING: processed images are kept and the rest are
		// dispatched again by the next StartProcessing or daemon start.
		m.setLastError(runErr)
		logging.ErrorWithContext(logger, "scan run stopped on a storage error", "scan_run_storage_failed",
			logging.Error(runErr),
			logging.Int("attempts", m.runAttempts),
			logging.String(logging.FieldErrorHint, "fix the storage problem, then run `cardscan scan process` again"),
		)
		return
	default:
		m.failScan(ctx, scanID, fmt.Sprintf("recognition run failed: %s", failureMessage(runErr)), runErr)
		return
	}

	snap, err := m.store.Snapshot(ctx, scanID)
	if errors.Is(err, services.ErrNotFound) {
		logger.Info("scan removed during processing", logging.String(logging.FieldEventType, "scan_run_abandoned"))
		return
	}
	if err != nil {
		m.failScan(ctx, scanID, "could not read scan progress", err)
		return
	}
	if snap.Status != scan.StatusProcessing {
		logger.Info("scan already left processing; skipping finalization",
			logging.String("status", string(snap.Status)),
		)
		return
	}
	if snap.ProcessedImages < snap.TotalImages {
		m.failScan(ctx, scanID,
			fmt.Sprintf("%d of %d images were not processed", snap.TotalImages-snap.ProcessedImages, snap.TotalImages), nil)
		return
	}
	if snap.TotalImages > 0 && snap.FailedImages == snap.TotalImages {
		m.failScan(ctx, scanID, fmt.Sprintf("all %d images failed recognition", snap.TotalImages), nil)
		return
	}
	if err := m.store.UpdateStatus(ctx, scanID, scan.StatusReadyForReview, ""); err != nil {
		if errors.Is(err, services.ErrInvalidTransition) || errors.Is(err, services.ErrNotFound) {
			logger.Info("scan left processing before finalization", logging.Error(err))
			return
		}
		m.failScan(ctx, scanID, "could not mark scan ready for review", err)
		return
	}
	m.recorder.ObserveTransition(scan.StatusReadyForReview)
	m.setLastScan(scanID)
	logger.Info("scan ready for review",
		logging.String(logging.FieldEventType, "scan_ready"),
		logging.Int("images", snap.TotalImages),
		logging.Int("results", snap.ResultCount),
		logging.Int("failed_images", snap.FailedImages),
		logging.Int("refused_images", snap.RefusedImages),
		logging.Int("empty_images", snap.EmptyImages),
		logging.Duration("elapsed", elapsed),
	)
	m.notifyReady(ctx, scanID, snap.ResultCount)
}

func (m *Manager) resumeProcessing(ctx context.Context) {
	ids, err := m.store.ScansInStatus(ctx, scan.StatusProcessing)
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(m.logger, "could not list interrupted scans", "scan_resume_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check scan database access; interrupted scans resume on the next start"),
		)
		return
	}
	for _, id := range ids {
		release := m.locks.Lock(id)
		if m.launch(id) {
			m.logger.Info("resuming interrupted scan",
				logging.String(logging.FieldScanID, id),
				logging.String(logging.FieldEventType, "scan_resumed"),
			)
		}
		release()
	}
}

func (m *Manager) purgeCancelled(ctx context.Context) {
	ids, err := m.store.ScansInStatus(ctx, scan.StatusCancelled)
	if err != nil {
		logging.WarnWithContext(m.logger, "could not list cancelled scans", "scan_purge_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check scan database access"),
			logging.String(logging.FieldImpact, "cancelled scan data stays on disk until the next start"),
		)
		return
	}
	for _, id := range ids {
		release := m.locks.Lock(id)
		m.deleteScan(ctx, id)
		release()
	}
}

// IsRunning reports whether the manager accepts processing requests.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
