package scan

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const (
	scanColumns   = "id, status, created_at, updated_at, error_message"
	imageColumns  = "id, scan_id, position, filename, original_filename, content_type, size_bytes, processed, outcome, outcome_detail, raw_response, processed_at"
	resultColumns = "id, scan_id, image_id, position, card_name, set_name, set_code, collector_number, confidence_score, quantity, card_data_json, status, requires_review, created_at, updated_at"
)

type rowScanner interface{ Scan(dest ...any) error }

func scanScan(row rowScanner) (*Scan, error) {
	var (
		id           string
		statusStr    string
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		errorMessage sql.NullString
	)
	if err := row.Scan(&id, &statusStr, &createdRaw, &updatedRaw, &errorMessage); err != nil {
		return nil, err
	}
	sc := &Scan{
		ID:           id,
		Status:       Status(statusStr),
		ErrorMessage: errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		sc.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		sc.UpdatedAt = updated
	}
	return sc, nil
}

func scanImage(row rowScanner) (*Image, error) {
	var (
		img              Image
		originalFilename sql.NullString
		contentType      sql.NullString
		processed        int64
		outcome          sql.NullString
		outcomeDetail    sql.NullString
		rawResponse      sql.NullString
		processedRaw     sql.NullString
	)
	if err := row.Scan(
		&img.ID,
		&img.ScanID,
		&img.Position,
		&img.Filename,
		&originalFilename,
		&contentType,
		&img.SizeBytes,
		&processed,
		&outcome,
		&outcomeDetail,
		&rawResponse,
		&processedRaw,
	); err != nil {
		return nil, err
	}
	img.OriginalFilename = originalFilename.String
	img.ContentType = contentType.String
	img.Processed = processed != 0
	img.Outcome = Outcome(outcome.String)
	img.OutcomeDetail = outcomeDetail.String
	img.RawResponse = rawResponse.String
	if processedRaw.Valid {
		if ts, err := parseTimeString(processedRaw.String); err == nil {
			img.ProcessedAt = &ts
		}
	}
	return &img, nil
}

func scanResult(row rowScanner) (*Result, error) {
	var (
		res             Result
		setName         sql.NullString
		setCode         sql.NullString
		collectorNumber sql.NullString
		cardData        sql.NullString
		statusStr       string
		requiresReview  int64
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)
	if err := row.Scan(
		&res.ID,
		&res.ScanID,
		&res.ImageID,
		&res.Position,
		&res.CardName,
		&setName,
		&setCode,
		&collectorNumber,
		&res.ConfidenceScore,
		&res.Quantity,
		&cardData,
		&statusStr,
		&requiresReview,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	res.SetName = setName.String
	res.SetCode = setCode.String
	res.CollectorNumber = collectorNumber.String
	if cardData.Valid && cardData.String != "" && json.Valid([]byte(cardData.String)) {
		res.CardData = json.RawMessage(cardData.String)
	}
	res.Status = ResultStatus(statusStr)
	res.RequiresReview = requiresReview != 0
	if created, err := parseTimeString(createdRaw.String); err == nil {
		res.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		res.UpdatedAt = updated
	}
	return &res, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableJSON(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func stringArgs[T ~string](values []T) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = string(v)
	}
	return args
}
