package api

import (
	"encoding/json"

	"cardscan/internal/collection"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// UploadResponse is returned after a scan is created.
type UploadResponse struct {
	ScanID      string `json:"scan_id"`
	Status      string `json:"status"`
	TotalImages int    `json:"total_images"`
}

// ScanStatus reports scan progress for polling clients.
type ScanStatus struct {
	ScanID          string `json:"scan_id"`
	Status          string `json:"status"`
	ProcessedImages int    `json:"processed_images"`
	TotalImages     int    `json:"total_images"`
	FailedImages    int    `json:"failed_images"`
	RefusedImages   int    `json:"refused_images"`
	EmptyImages     int    `json:"empty_images"`
	ResultCount     int    `json:"result_count"`
	AcceptedCount   int    `json:"accepted_count"`
	RejectedCount   int    `json:"rejected_count"`
	PendingCount    int    `json:"pending_count"`
	ErrorMessage    string `json:"error_message,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// ScanResult is one identified card awaiting review.
type ScanResult struct {
	ID              string          `json:"id"`
	ImageID         string          `json:"image_id"`
	CardName        string          `json:"card_name"`
	SetName         string          `json:"set_name"`
	SetCode         string          `json:"set_code"`
	CollectorNumber string          `json:"collector_number,omitempty"`
	ConfidenceScore float64         `json:"confidence_score"`
	Quantity        int             `json:"quantity"`
	Status          string          `json:"status"`
	RequiresReview  bool            `json:"requires_review"`
	CardData        json.RawMessage `json:"card_data,omitempty"`
}

// ResultsResponse wraps a scan's results.
type ResultsResponse struct {
	ScanID  string       `json:"scan_id"`
	Status  string       `json:"status"`
	Results []ScanResult `json:"results"`
}

// SelectionRequest names the results a review decision applies to. All
// selects every pending result; accept also honors accept_all.
type SelectionRequest struct {
	ResultIDs []string `json:"result_ids" validate:"max=500,dive,required,max=64"`
	AcceptAll bool     `json:"accept_all"`
	All       bool     `json:"all"`
}

// SelectionResponse reports how many results changed.
type SelectionResponse struct {
	ScanID  string `json:"scan_id"`
	Updated int    `json:"updated"`
}

// CommitResponse reports what a commit added to the collection.
type CommitResponse struct {
	ScanID       string `json:"scan_id"`
	CardsCreated int    `json:"cards_created"`
	NewCards     int    `json:"new_cards"`
	StackedCards int    `json:"stacked_cards"`
	Recovered    bool   `json:"recovered,omitempty"`
}

// ImageResponse is the recognition exchange for one image.
type ImageResponse struct {
	ImageID          string `json:"image_id"`
	Position         int    `json:"position"`
	OriginalFilename string `json:"original_filename"`
	Outcome          string `json:"outcome,omitempty"`
	Detail           string `json:"detail,omitempty"`
	RawResponse      string `json:"raw_response,omitempty"`
}

// AIResponse wraps the raw model output recorded for a scan.
type AIResponse struct {
	ScanID string          `json:"scan_id"`
	Images []ImageResponse `json:"images"`
}

// ScanSummary is a scan history row.
type ScanSummary struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
	TotalImages     int    `json:"total_images"`
	ProcessedImages int    `json:"processed_images"`
	ResultCount     int    `json:"result_count"`
	AcceptedCount   int    `json:"accepted_count"`
}

// ScanListResponse wraps scan history.
type ScanListResponse struct {
	Scans []ScanSummary `json:"scans"`
}

// ClearResponse reports how many scans were removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// CardListResponse is the individual card view.
type CardListResponse struct {
	ViewMode string            `json:"view_mode"`
	Cards    []collection.Card `json:"cards"`
	Total    int               `json:"total"`
}

// StackListResponse is the stacked card view.
type StackListResponse struct {
	ViewMode string             `json:"view_mode"`
	Stacks   []collection.Stack `json:"stacks"`
	Total    int                `json:"total"`
}

// CardRequest creates a card by hand.
type CardRequest struct {
	Name            string   `json:"name" validate:"required,max=255"`
	SetCode         string   `json:"set_code" validate:"omitempty,max=16"`
	SetName         string   `json:"set_name" validate:"omitempty,max=255"`
	CollectorNumber string   `json:"collector_number" validate:"omitempty,max=32"`
	Count           int      `json:"count" validate:"omitempty,min=1,max=10000"`
	Condition       string   `json:"condition" validate:"omitempty,max=8"`
	Notes           string   `json:"notes" validate:"omitempty,max=2000"`
	IsExample       bool     `json:"is_example"`
	PriceUSD        *float64 `json:"price_usd" validate:"omitempty,min=0"`
	PriceEUR        *float64 `json:"price_eur" validate:"omitempty,min=0"`
	ImageURL        string   `json:"image_url" validate:"omitempty,url"`
}

// CardUpdateRequest edits a card. Absent fields are left alone.
type CardUpdateRequest struct {
	Count     *int    `json:"count" validate:"omitempty,min=1,max=10000"`
	Condition *string `json:"condition" validate:"omitempty,max=8"`
	Notes     *string `json:"notes" validate:"omitempty,max=2000"`
	IsExample *bool   `json:"is_example"`
}

// IncrementRequest adds copies to a card. A zero By adds one.
type IncrementRequest struct {
	By int `json:"by" validate:"omitempty,min=1,max=1000"`
}

// ProvenanceResponse lists where a card's copies came from.
type ProvenanceResponse struct {
	CardID     string                  `json:"card_id"`
	Provenance []collection.Provenance `json:"provenance"`
}

// StatsResponse summarizes the collection and scan history.
type StatsResponse struct {
	collection.Stats
	ScansByStatus map[string]int `json:"scans_by_status"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	ActiveRuns  int            `json:"active_runs"`
	ScanStats   map[string]int `json:"scan_stats"`
	LastError   string         `json:"last_error,omitempty"`
	LastScanID  string         `json:"last_scan_id,omitempty"`
	StageHealth []StageHealth  `json:"stage_health"`
}

// StageHealth mirrors readiness reporting for stages and dependencies.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	ScanDBPath   string         `json:"scan_db_path"`
	LockFilePath string         `json:"lock_file_path"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// StatusFunc reports daemon runtime information. Workflow is filled in by
// the server when left empty.
type StatusFunc func() DaemonStatus

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	Kind          string `json:"kind"`
	Retryable     bool   `json:"retryable"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
