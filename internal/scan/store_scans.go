package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"cardscan/internal/services"
)

const component = "scan store"

// ErrBlobCleanup marks a delete whose rows were removed but whose image files
// could not all be released. The scan itself is gone.
var ErrBlobCleanup = errors.New("image cleanup incomplete")

// TransitionError reports an illegal scan status change.
type TransitionError struct {
	ScanID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: scan %s: %s -> %s", services.ErrInvalidTransition, e.ScanID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return services.ErrInvalidTransition }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func notFound(operation, what string) error {
	return services.Wrap(services.ErrNotFound, component, operation, what, nil)
}

// CreateScan persists a new scan in CREATED with one image record per upload.
// Either every image is recorded or none are.
func (s *Store) CreateScan(ctx context.Context, uploads []Upload) (*Scan, error) {
	ctx = ensureContext(ctx)
	if len(uploads) == 0 {
		return nil, services.Wrap(services.ErrValidation, component, "create scan", "at least one image is required", nil)
	}
	if s.maxImages > 0 && len(uploads) > s.maxImages {
		return nil, services.Wrap(services.ErrValidation, component, "create scan",
			fmt.Sprintf("%d images exceeds the limit of %d per scan", len(uploads), s.maxImages), nil)
	}

	scanID := uuid.NewString()
	images := make([]Image, 0, len(uploads))
	written := make([]string, 0, len(uploads))
	cleanup := func() {
		for _, key := range written {
			_ = s.blobs.Delete(context.WithoutCancel(ctx), key)
		}
	}

	for idx, upload := range uploads {
		if upload.Body == nil {
			cleanup()
			return nil, services.Wrap(services.ErrValidation, component, "create scan",
				fmt.Sprintf("image %d has no content", idx+1), nil)
		}
		imageID := uuid.NewString()
		key := scanID + "/" + imageID + imageExtension(upload.OriginalFilename, upload.ContentType)
		size, err := s.blobs.Put(ctx, key, upload.Body, upload.ContentType)
		if err != nil {
			cleanup()
			if errors.Is(err, services.ErrValidation) {
				return nil, err
			}
			return nil, services.Wrap(services.ErrStorage, component, "create scan", "write image "+filepath.Base(upload.OriginalFilename), err)
		}
		written = append(written, key)
		images = append(images, Image{
			ID:               imageID,
			ScanID:           scanID,
			Position:         idx,
			Filename:         key,
			OriginalFilename: strings.TrimSpace(upload.OriginalFilename),
			ContentType:      upload.ContentType,
			SizeBytes:        size,
		})
	}

	now := formatTime(time.Now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scans (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			scanID, StatusCreated, now, now,
		); err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}
		for _, img := range images {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO scan_images (id, scan_id, position, filename, original_filename, content_type, size_bytes)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				img.ID, img.ScanID, img.Position, img.Filename,
				nullableString(img.OriginalFilename), nullableString(img.ContentType), img.SizeBytes,
			); err != nil {
				return fmt.Errorf("insert image %d: %w", img.Position, err)
			}
		}
		return nil
	})
	if err != nil {
		cleanup()
		return nil, services.Wrap(services.ErrStorage, component, "create scan", "persist records", err)
	}

	return s.GetScan(ctx, scanID)
}

func imageExtension(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".heic", ".bmp", ".tif", ".tiff":
		return ext
	}
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ".img"
}

// GetScan loads a scan with its images and results from one consistent read.
func (s *Store) GetScan(ctx context.Context, id string) (*Scan, error) {
	ctx = ensureContext(ctx)
	var sc *Scan
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sc, err = loadScan(ctx, tx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrStorage, component, "get scan", id, err)
	}
	return sc, nil
}

func loadScan(ctx context.Context, q queryer, id string) (*Scan, error) {
	sc, err := scanScan(q.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get scan", "scan "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	if sc.Images, err = queryImages(ctx, q, `WHERE scan_id = ? ORDER BY position`, id); err != nil {
		return nil, err
	}
	if sc.Results, err = queryResults(ctx, q, `WHERE scan_id = ? ORDER BY position, id`, id); err != nil {
		return nil, err
	}
	return sc, nil
}

// UpdateStatus moves a scan to a new status when the transition table allows it.
// The update is a compare-and-swap against the status read in the same transaction.
func (s *Store) UpdateStatus(ctx context.Context, id string, to Status, message string) error {
	ctx = ensureContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM scans WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("update status", "scan "+id)
		}
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		from := Status(current)
		if !CanTransition(from, to) {
			return &TransitionError{ScanID: id, From: from, To: to}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE scans SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
			to, nullableString(message), formatTime(time.Now()), id, from,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &TransitionError{ScanID: id, From: from, To: to}
		}
		return nil
	})
	if err == nil || errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrInvalidTransition) {
		return err
	}
	return services.Wrap(services.ErrStorage, component, "update status", id, err)
}

// Snapshot returns status and progress counters read by a single statement.
func (s *Store) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	ctx = ensureContext(ctx)
	var (
		snap       Snapshot
		statusStr  string
		updatedRaw sql.NullString
		errMessage sql.NullString
	)
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
            SELECT s.id, s.status, s.updated_at, s.error_message,
                (SELECT COUNT(*) FROM scan_images i WHERE i.scan_id = s.id),
                (SELECT COUNT(*) FROM scan_images i WHERE i.scan_id = s.id AND i.processed = 1),
                (SELECT COUNT(*) FROM scan_images i WHERE i.scan_id = s.id AND i.outcome = 'failed'),
                (SELECT COUNT(*) FROM scan_images i WHERE i.scan_id = s.id AND i.outcome = 'refused'),
                (SELECT COUNT(*) FROM scan_images i WHERE i.scan_id = s.id AND i.outcome = 'empty'),
                (SELECT COUNT(*) FROM scan_results r WHERE r.scan_id = s.id),
                (SELECT COUNT(*) FROM scan_results r WHERE r.scan_id = s.id AND r.status = 'ACCEPTED'),
                (SELECT COUNT(*) FROM scan_results r WHERE r.scan_id = s.id AND r.status = 'REJECTED'),
                (SELECT COUNT(*) FROM scan_results r WHERE r.scan_id = s.id AND r.status = 'PENDING')
            FROM scans s WHERE s.id = ?`, id,
		).Scan(
			&snap.ScanID, &statusStr, &updatedRaw, &errMessage,
			&snap.TotalImages, &snap.ProcessedImages, &snap.FailedImages, &snap.RefusedImages, &snap.EmptyImages,
			&snap.ResultCount, &snap.AcceptedCount, &snap.RejectedCount, &snap.PendingCount,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, notFound("snapshot", "scan "+id)
	}
	if err != nil {
		return Snapshot{}, services.Wrap(services.ErrStorage, component, "snapshot", id, err)
	}
	snap.Status = Status(statusStr)
	snap.ErrorMessage = errMessage.String
	if updated, perr := parseTimeString(updatedRaw.String); perr == nil {
		snap.UpdatedAt = updated
	}
	return snap, nil
}

// DeleteScan removes a scan, its images, and its results, then releases the
// stored image files. When only file cleanup fails the returned error matches
// ErrBlobCleanup and the scan rows are already gone.
func (s *Store) DeleteScan(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	var keys []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		keys = keys[:0]
		rows, err := tx.QueryContext(ctx, `SELECT filename FROM scan_images WHERE scan_id = ?`, id)
		if err != nil {
			return fmt.Errorf("list image files: %w", err)
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return fmt.Errorf("scan image file: %w", err)
			}
			keys = append(keys, key)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete scan: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("delete scan", "scan "+id)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return err
		}
		return services.Wrap(services.ErrStorage, component, "delete scan", id, err)
	}

	var cleanupErrs []error
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if len(cleanupErrs) > 0 {
		return fmt.Errorf("%w: scan %s: %w", ErrBlobCleanup, id, errors.Join(cleanupErrs...))
	}
	return nil
}

// ListScans returns scan history newest first, optionally filtered by status.
func (s *Store) ListScans(ctx context.Context, statuses ...Status) ([]Summary, error) {
	ctx = ensureContext(ctx)
	query := `
        SELECT s.id, s.status, s.created_at, s.updated_at,
            (SELECT COUNT(*) FROM scan_images i WHERE i.scan_id = s.id),
            (SELECT COUNT(*) FROM scan_images i WHERE i.scan_id = s.id AND i.processed = 1),
            (SELECT COUNT(*) FROM scan_results r WHERE r.scan_id = s.id),
            (SELECT COUNT(*) FROM scan_results r WHERE r.scan_id = s.id AND r.status = 'ACCEPTED')
        FROM scans s`
	args := []any{}
	if len(statuses) > 0 {
		query += ` WHERE s.status IN (` + makePlaceholders(len(statuses)) + `)`
		args = stringArgs(statuses)
	}
	query += ` ORDER BY s.created_at DESC, s.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "list scans", "", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum        Summary
			statusStr  string
			createdRaw sql.NullString
			updatedRaw sql.NullString
		)
		if err := rows.Scan(&sum.ID, &statusStr, &createdRaw, &updatedRaw,
			&sum.TotalImages, &sum.ProcessedImages, &sum.ResultCount, &sum.AcceptedCount); err != nil {
			return nil, services.Wrap(services.ErrStorage, component, "list scans", "", err)
		}
		sum.Status = Status(statusStr)
		if t, perr := parseTimeString(createdRaw.String); perr == nil {
			sum.CreatedAt = t
		}
		if t, perr := parseTimeString(updatedRaw.String); perr == nil {
			sum.UpdatedAt = t
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "list scans", "", err)
	}
	return out, nil
}

// ScansInStatus returns the ids of every scan currently in status, oldest first.
func (s *Store) ScansInStatus(ctx context.Context, status Status) ([]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM scans WHERE status = ? ORDER BY created_at, id`, status)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "scans in status", string(status), err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, services.Wrap(services.ErrStorage, component, "scans in status", string(status), err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns the number of scans in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scans GROUP BY status`)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "count by status", "", err)
	}
	defer rows.Close()
	counts := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, services.Wrap(services.ErrStorage, component, "count by status", "", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// ClearFailed deletes every FAILED scan. It returns how many scans were removed;
// image cleanup problems are reported through the joined error.
func (s *Store) ClearFailed(ctx context.Context) (int, error) {
	ids, err := s.ScansInStatus(ctx, StatusFailed)
	if err != nil {
		return 0, err
	}
	removed := 0
	var cleanupErrs []error
	for _, id := range ids {
		err := s.DeleteScan(ctx, id)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, ErrBlobCleanup):
			removed++
			cleanupErrs = append(cleanupErrs, err)
		case errors.Is(err, services.ErrNotFound):
		default:
			return removed, err
		}
	}
	return removed, errors.Join(cleanupErrs...)
}
