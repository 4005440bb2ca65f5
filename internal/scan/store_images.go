package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"cardscan/internal/services"
)

// ErrScanGone is returned when results arrive for a scan that was cancelled,
// deleted, or otherwise left PROCESSING. Callers discard the late results.
var ErrScanGone = errors.New("scan is no longer processing")

// ImageOutcome is the recorded end of recognition for one image.
type ImageOutcome struct {
	ScanID      string
	ImageID     string
	Outcome     Outcome
	Detail      string
	RawResponse string
	Results     []Result
}

func queryImages(ctx context.Context, q queryer, where string, args ...any) ([]Image, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+imageColumns+` FROM scan_images `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()
	var out []Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, *img)
	}
	return out, rows.Err()
}

// UnprocessedImages returns images of a scan that have no recorded outcome yet.
func (s *Store) UnprocessedImages(ctx context.Context, scanID string) ([]Image, error) {
	ctx = ensureContext(ctx)
	images, err := queryImages(ctx, s.db, `WHERE scan_id = ? AND processed = 0 ORDER BY position`, scanID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "unprocessed images", scanID, err)
	}
	return images, nil
}

// GetImage fetches one image record belonging to a scan.
func (s *Store) GetImage(ctx context.Context, scanID, imageID string) (*Image, error) {
	ctx = ensureContext(ctx)
	img, err := scanImage(s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM scan_images WHERE scan_id = ? AND id = ?`, scanID, imageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get image", fmt.Sprintf("image %s in scan %s", imageID, scanID))
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "get image", imageID, err)
	}
	return img, nil
}

// ImageBlob opens the stored bytes for an image. The caller closes the reader.
func (s *Store) ImageBlob(ctx context.Context, scanID, imageID string) (io.ReadCloser, *Image, error) {
	img, err := s.GetImage(ctx, scanID, imageID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ensureContext(ctx), img.Filename)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, services.Wrap(services.ErrStorage, component, "open image", img.Filename, err)
	}
	return rc, img, nil
}

// RecordImageOutcome stores the results of one image and marks it processed in a
// single transaction. It returns ErrScanGone without writing anything when the
// scan no longer exists or has left PROCESSING.
func (s *Store) RecordImageOutcome(ctx context.Context, outcome ImageOutcome) error {
	ctx = ensureContext(ctx)
	if outcome.Outcome == OutcomeNone {
		return services.Wrap(services.ErrValidation, component, "record outcome", "outcome is required", nil)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireProcessing(ctx, tx, outcome.ScanID); err != nil {
			return err
		}
		if err := insertResults(ctx, tx, outcome.ScanID, outcome.Results); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE scan_images
             SET processed = 1, outcome = ?, outcome_detail = ?, raw_response = ?, processed_at = ?
             WHERE id = ? AND scan_id = ?`,
			outcome.Outcome,
			nullableString(outcome.Detail),
			nullableString(outcome.RawResponse),
			formatTime(time.Now()),
			outcome.ImageID,
			outcome.ScanID,
		)
		if err != nil {
			return fmt.Errorf("mark image processed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("record outcome", fmt.Sprintf("image %s in scan %s", outcome.ImageID, outcome.ScanID))
		}
		return nil
	})
	if err == nil || errors.Is(err, ErrScanGone) || errors.Is(err, services.ErrNotFound) {
		return err
	}
	return services.Wrap(services.ErrStorage, component, "record outcome", outcome.ImageID, err)
}

func requireProcessing(ctx context.Context, tx *sql.Tx, scanID string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM scans WHERE id = ?`, scanID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrScanGone
	}
	if err != nil {
		return fmt.Errorf("read scan status: %w", err)
	}
	if Status(status) != StatusProcessing {
		return ErrScanGone
	}
	return nil
}
