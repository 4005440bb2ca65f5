package scan

import (
	"encoding/json"
	"io"
	"strings"
	"time"
)

// Status represents the lifecycle of a scan session.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusProcessing     Status = "PROCESSING"
	StatusReadyForReview Status = "READY_FOR_REVIEW"
	StatusFailed         Status = "FAILED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

var allStatuses = []Status{
	StatusCreated,
	StatusProcessing,
	StatusReadyForReview,
	StatusFailed,
	StatusCompleted,
	StatusCancelled,
}

// transitions lists every legal status move. Anything absent is rejected.
var transitions = map[Status]map[Status]struct{}{
	StatusCreated: {
		StatusProcessing: {},
		StatusCancelled:  {},
	},
	StatusProcessing: {
		StatusReadyForReview: {},
		StatusFailed:         {},
		StatusCancelled:      {},
	},
	StatusReadyForReview: {
		StatusCompleted: {},
		StatusCancelled: {},
	},
}

// AllStatuses returns every scan status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a user-supplied string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ResultStatus is the review decision recorded against a single result.
type ResultStatus string

const (
	ResultPending  ResultStatus = "PENDING"
	ResultAccepted ResultStatus = "ACCEPTED"
	ResultRejected ResultStatus = "REJECTED"
)

// Outcome records how recognition of a single image ended.
type Outcome string

const (
	OutcomeNone       Outcome = ""
	OutcomeRecognized Outcome = "recognized"
	OutcomeEmpty      Outcome = "empty"
	OutcomeRefused    Outcome = "refused"
	OutcomeFailed     Outcome = "failed"
)

// Scan is one batch upload-and-identify session.
type Scan struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Images       []Image   `json:"images"`
	Results      []Result  `json:"results"`
}

// ProcessedCount returns the number of images that reached a recognition outcome.
func (s *Scan) ProcessedCount() int {
	count := 0
	for _, img := range s.Images {
		if img.Processed {
			count++
		}
	}
	return count
}

// Image is one uploaded file belonging to a scan.
type Image struct {
	ID               string     `json:"id"`
	ScanID           string     `json:"scan_id"`
	Position         int        `json:"position"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"original_filename"`
	ContentType      string     `json:"content_type"`
	SizeBytes        int64      `json:"size_bytes"`
	Processed        bool       `json:"processed"`
	Outcome          Outcome    `json:"outcome,omitempty"`
	OutcomeDetail    string     `json:"outcome_detail,omitempty"`
	RawResponse      string     `json:"-"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// Result is one candidate card identified from one image.
type Result struct {
	ID              string          `json:"id"`
	ScanID          string          `json:"scan_id"`
	ImageID         string          `json:"image_id"`
	Position        int             `json:"position"`
	CardName        string          `json:"card_name"`
	SetName         string          `json:"set_name"`
	SetCode         string          `json:"set_code"`
	CollectorNumber string          `json:"collector_number,omitempty"`
	ConfidenceScore float64         `json:"confidence_score"`
	Quantity        int             `json:"quantity"`
	CardData        json.RawMessage `json:"card_data,omitempty"`
	Status          ResultStatus    `json:"status"`
	RequiresReview  bool            `json:"requires_review"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Upload is a single client-supplied image awaiting persistence.
type Upload struct {
	OriginalFilename string
	ContentType      string
	Body             io.Reader
}

// Snapshot is a consistent point-in-time view of scan progress.
type Snapshot struct {
	ScanID          string    `json:"scan_id"`
	Status          Status    `json:"status"`
	TotalImages     int       `json:"total_images"`
	ProcessedImages int       `json:"processed_images"`
	FailedImages    int       `json:"failed_images"`
	RefusedImages   int       `json:"refused_images"`
	EmptyImages     int       `json:"empty_images"`
	ResultCount     int       `json:"result_count"`
	AcceptedCount   int       `json:"accepted_count"`
	RejectedCount   int       `json:"rejected_count"`
	PendingCount    int       `json:"pending_count"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Summary is a scan history row.
type Summary struct {
	ID              string    `json:"id"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	TotalImages     int       `json:"total_images"`
	ProcessedImages int       `json:"processed_images"`
	ResultCount     int       `json:"result_count"`
	AcceptedCount   int       `json:"accepted_count"`
}

// CardData is the lookup payload stored with a result: market data and the
// model's free-text notes. Every field is optional.
type CardData struct {
	ScryfallID string   `json:"scryfall_id,omitempty"`
	Rarity     string   `json:"rarity,omitempty"`
	ManaCost   string   `json:"mana_cost,omitempty"`
	TypeLine   string   `json:"type_line,omitempty"`
	OracleText string   `json:"oracle_text,omitempty"`
	ImageURL   string   `json:"image_url,omitempty"`
	PriceUSD   *float64 `json:"price_usd,omitempty"`
	PriceEUR   *float64 `json:"price_eur,omitempty"`
	PriceTix   *float64 `json:"price_tix,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Data decodes the result's card_data payload. Malformed or absent payloads
// yield a zero CardData.
func (r Result) Data() CardData {
	var data CardData
	if len(r.CardData) == 0 {
		return data
	}
	if err := json.Unmarshal(r.CardData, &data); err != nil {
		return CardData{}
	}
	return data
}
