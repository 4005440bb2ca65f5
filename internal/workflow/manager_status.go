package workflow

import (
	"context"
	"io"
	"sort"

	"cardscan/internal/logging"
	"cardscan/internal/scan"
	"cardscan/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                `json:"running"`
	LastError   string              `json:"last_error,omitempty"`
	LastScanID  string              `json:"last_scan_id,omitempty"`
	ActiveRuns  int                 `json:"active_runs"`
	ScanStats   map[scan.Status]int `json:"scan_stats"`
	StageHealth []stage.Health      `json:"stage_health"`
}

// ImageResponse is the raw model exchange for one image.
type ImageResponse struct {
	ImageID          string       `json:"image_id"`
	Position         int          `json:"position"`
	OriginalFilename string       `json:"original_filename"`
	Outcome          scan.Outcome `json:"outcome,omitempty"`
	Detail           string       `json:"detail,omitempty"`
	RawResponse      string       `json:"raw_response,omitempty"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:    m.running,
		LastScanID: m.lastScan,
		ActiveRuns: len(m.runs),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	checkers := append([]namedChecker(nil), m.checkers...)
	m.mu.RUnlock()

	stats, err := m.store.CountByStatus(ctx)
	if err != nil {
		logging.WarnWithContext(m.logger, "failed to read scan stats", "scan_stats_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check scan database access"),
			logging.String(logging.FieldImpact, "status report omits scan counts"),
		)
	}
	summary.ScanStats = stats

	if m.worker != nil {
		summary.StageHealth = append(summary.StageHealth, m.worker.HealthCheck(ctx))
	}
	for _, c := range checkers {
		health := c.checker.HealthCheck(ctx)
		if health.Name == "" {
			health.Name = c.name
		}
		summary.StageHealth = append(summary.StageHealth, health)
	}
	sort.SliceStable(summary.StageHealth, func(i, j int) bool {
		return summary.StageHealth[i].Name < summary.StageHealth[j].Name
	})
	return summary
}

// ScanStatus returns a consistent progress snapshot. It has no side effects.
func (m *Manager) ScanStatus(ctx context.Context, scanID string) (scan.Snapshot, error) {
	return m.store.Snapshot(ctx, scanID)
}

// Scan returns the scan with its images and results.
func (m *Manager) Scan(ctx context.Context, scanID string) (*scan.Scan, error) {
	return m.store.GetScan(ctx, scanID)
}

// Results lists the scan's results in image order.
func (m *Manager) Results(ctx context.Context, scanID string) ([]scan.Result, error) {
	return m.store.Results(ctx, scanID)
}

// AIResponse returns the raw recognition responses for every image.
func (m *Manager) AIResponse(ctx context.Context, scanID string) ([]ImageResponse, error) {
	sc, err := m.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	out := make([]ImageResponse, 0, len(sc.Images))
	for _, img := range sc.Images {
		out = append(out, ImageResponse{
			ImageID:          img.ID,
			Position:         img.Position,
			OriginalFilename: img.OriginalFilename,
			Outcome:          img.Outcome,
			Detail:           img.OutcomeDetail,
			RawResponse:      img.RawResponse,
		})
	}
	return out, nil
}

// ListScans returns scan history newest first.
func (m *Manager) ListScans(ctx context.Context, statuses ...scan.Status) ([]scan.Summary, error) {
	return m.store.ListScans(ctx, statuses...)
}

// Image opens a stored scan image. The caller closes the reader.
func (m *Manager) Image(ctx context.Context, scanID, imageID string) (io.ReadCloser, *scan.Image, error) {
	return m.store.ImageBlob(ctx, scanID, imageID)
}

// ScanCounts returns the number of scans in each status without running
// health checks.
func (m *Manager) ScanCounts(ctx context.Context) (map[scan.Status]int, error) {
	return m.store.CountByStatus(ctx)
}

// ClearFailed deletes every FAILED scan.
func (m *Manager) ClearFailed(ctx context.Context) (int, error) {
	removed, err := m.store.ClearFailed(ctx)
	if err != nil {
		logging.WarnWithContext(m.logger, "clearing failed scans was incomplete", "scan_clear_failed",
			logging.Int("removed", removed),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "retry the clear or remove leftover files by hand"),
			logging.String(logging.FieldImpact, "some failed scans or image files remain"),
		)
	}
	return removed, err
}

// ActiveRuns reports how many scans have a recognition run in progress.
func (m *Manager) ActiveRuns() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastScan(scanID string) {
	m.mu.Lock()
	m.lastScan = scanID
	m.mu.Unlock()
}
