package api

import (
	"time"

	"cardscan/internal/commit"
	"cardscan/internal/scan"
	"cardscan/internal/stage"
	"cardscan/internal/workflow"
)

// FromSnapshot converts a scan snapshot to its API representation.
func FromSnapshot(snap scan.Snapshot) ScanStatus {
	return ScanStatus{
		ScanID:          snap.ScanID,
		Status:          string(snap.Status),
		ProcessedImages: snap.ProcessedImages,
		TotalImages:     snap.TotalImages,
		FailedImages:    snap.FailedImages,
		RefusedImages:   snap.RefusedImages,
		EmptyImages:     snap.EmptyImages,
		ResultCount:     snap.ResultCount,
		AcceptedCount:   snap.AcceptedCount,
		RejectedCount:   snap.RejectedCount,
		PendingCount:    snap.PendingCount,
		ErrorMessage:    snap.ErrorMessage,
		UpdatedAt:       FormatTime(snap.UpdatedAt),
	}
}

// FromResults converts scan results to DTOs. The slice is never nil so
// clients always see a JSON array.
func FromResults(results []scan.Result) []ScanResult {
	out := make([]ScanResult, 0, len(results))
	for _, res := range results {
		out = append(out, ScanResult{
			ID:              res.ID,
			ImageID:         res.ImageID,
			CardName:        res.CardName,
			SetName:         res.SetName,
			SetCode:         res.SetCode,
			CollectorNumber: res.CollectorNumber,
			ConfidenceScore: res.ConfidenceScore,
			Quantity:        res.Quantity,
			Status:          string(res.Status),
			RequiresReview:  res.RequiresReview,
			CardData:        res.CardData,
		})
	}
	return out
}

// FromCommit converts a commit result.
func FromCommit(res commit.Result) CommitResponse {
	return CommitResponse{
		ScanID:       res.ScanID,
		CardsCreated: res.CardsCreated,
		NewCards:     res.NewCards,
		StackedCards: res.StackedCards,
		Recovered:    res.Recovered,
	}
}

// FromImageResponses converts the recorded model exchanges.
func FromImageResponses(images []workflow.ImageResponse) []ImageResponse {
	out := make([]ImageResponse, 0, len(images))
	for _, img := range images {
		out = append(out, ImageResponse{
			ImageID:          img.ImageID,
			Position:         img.Position,
			OriginalFilename: img.OriginalFilename,
			Outcome:          string(img.Outcome),
			Detail:           img.Detail,
			RawResponse:      img.RawResponse,
		})
	}
	return out
}

// FromSummaries converts scan history rows.
func FromSummaries(rows []scan.Summary) []ScanSummary {
	out := make([]ScanSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, ScanSummary{
			ID:              row.ID,
			Status:          string(row.Status),
			CreatedAt:       FormatTime(row.CreatedAt),
			UpdatedAt:       FormatTime(row.UpdatedAt),
			TotalImages:     row.TotalImages,
			ProcessedImages: row.ProcessedImages,
			ResultCount:     row.ResultCount,
			AcceptedCount:   row.AcceptedCount,
		})
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	return WorkflowStatus{
		Running:     summary.Running,
		ActiveRuns:  summary.ActiveRuns,
		ScanStats:   MergeScanStats(summary.ScanStats),
		LastError:   summary.LastError,
		LastScanID:  summary.LastScanID,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
}

// MergeScanStats produces a string-keyed count for every scan status,
// including zeros.
func MergeScanStats(stats map[scan.Status]int) map[string]int {
	out := make(map[string]int, len(scan.AllStatuses()))
	for _, status := range scan.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// StageHealthSlice converts stage health records, keeping their order.
func StageHealthSlice(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
