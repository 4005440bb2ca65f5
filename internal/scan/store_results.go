package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cardscan/internal/services"
)

func queryResults(ctx context.Context, q queryer, where string, args ...any) ([]Result, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+resultColumns+` FROM scan_results `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	var out []Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// insertResults writes results, silently skipping ids that already exist.
func insertResults(ctx context.Context, tx *sql.Tx, scanID string, results []Result) error {
	now := formatTime(time.Now())
	for _, res := range results {
		if res.ID == "" {
			return services.Wrap(services.ErrValidation, component, "append results", "result id is required", nil)
		}
		status := res.Status
		if status == "" {
			status = ResultPending
		}
		quantity := res.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scan_results (
                id, scan_id, image_id, position, card_name, set_name, set_code, collector_number,
                confidence_score, quantity, card_data_json, status, requires_review, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO NOTHING`,
			res.ID, scanID, res.ImageID, res.Position, res.CardName,
			nullableString(res.SetName), nullableString(res.SetCode), nullableString(res.CollectorNumber),
			res.ConfidenceScore, quantity, nullableJSON(res.CardData), status, boolToInt(res.RequiresReview),
			now, now,
		); err != nil {
			return fmt.Errorf("insert result %s: %w", res.ID, err)
		}
	}
	return nil
}

// AppendResults adds results to a PROCESSING scan. Re-adding an existing id is a no-op.
func (s *Store) AppendResults(ctx context.Context, scanID string, results []Result) error {
	ctx = ensureContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireProcessing(ctx, tx, scanID); err != nil {
			return err
		}
		return insertResults(ctx, tx, scanID, results)
	})
	if err == nil || errors.Is(err, ErrScanGone) || errors.Is(err, services.ErrValidation) {
		return err
	}
	return services.Wrap(services.ErrStorage, component, "append results", scanID, err)
}

// Results returns every result of a scan in image order.
func (s *Store) Results(ctx context.Context, scanID string) ([]Result, error) {
	ctx = ensureContext(ctx)
	var out []Result
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireScan(ctx, tx, scanID, "results"); err != nil {
			return err
		}
		var err error
		out, err = queryResults(ctx, tx, `WHERE scan_id = ? ORDER BY position, id`, scanID)
		return err
	})
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrStorage, component, "results", scanID, err)
	}
	return out, nil
}

// ResultsWithStatus returns the results of a scan that carry status.
func (s *Store) ResultsWithStatus(ctx context.Context, scanID string, status ResultStatus) ([]Result, error) {
	ctx = ensureContext(ctx)
	out, err := queryResults(ctx, s.db, `WHERE scan_id = ? AND status = ? ORDER BY position, id`, scanID, status)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "results with status", scanID, err)
	}
	return out, nil
}

// SetResultStatus records a review decision for one result.
func (s *Store) SetResultStatus(ctx context.Context, scanID, resultID string, status ResultStatus) error {
	_, err := s.SetResultStatuses(ctx, scanID, []string{resultID}, status)
	return err
}

// SetResultStatuses records the same decision for several results. Every id must
// exist in the scan or nothing changes. Results already carrying status are left
// untouched; the returned count covers only rows that changed.
func (s *Store) SetResultStatuses(ctx context.Context, scanID string, resultIDs []string, status ResultStatus) (int, error) {
	ctx = ensureContext(ctx)
	if err := validateResultStatus(status); err != nil {
		return 0, err
	}
	ids := dedupe(resultIDs)
	if len(ids) == 0 {
		return 0, services.Wrap(services.ErrValidation, component, "set result status", "no result ids supplied", nil)
	}
	changed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireScan(ctx, tx, scanID, "set result status"); err != nil {
			return err
		}
		args := append([]any{scanID}, stringArgs(ids)...)
		var found int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM scan_results WHERE scan_id = ? AND id IN (`+makePlaceholders(len(ids))+`)`,
			args...,
		).Scan(&found); err != nil {
			return fmt.Errorf("count results: %w", err)
		}
		if found != len(ids) {
			return notFound("set result status", fmt.Sprintf("%d of %d results in scan %s", len(ids)-found, len(ids), scanID))
		}
		updateArgs := append([]any{status, formatTime(time.Now())}, args...)
		updateArgs = append(updateArgs, status)
		res, err := tx.ExecContext(ctx,
			`UPDATE scan_results SET status = ?, updated_at = ?
             WHERE scan_id = ? AND id IN (`+makePlaceholders(len(ids))+`) AND status != ?`,
			updateArgs...,
		)
		if err != nil {
			return fmt.Errorf("update results: %w", err)
		}
		n, _ := res.RowsAffected()
		changed = int(n)
		return nil
	})
	if err == nil || errors.Is(err, services.ErrNotFound) {
		return changed, err
	}
	return 0, services.Wrap(services.ErrStorage, component, "set result status", scanID, err)
}

// SetAllPending applies status to every PENDING result of a scan.
func (s *Store) SetAllPending(ctx context.Context, scanID string, status ResultStatus) (int, error) {
	ctx = ensureContext(ctx)
	if err := validateResultStatus(status); err != nil {
		return 0, err
	}
	changed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireScan(ctx, tx, scanID, "set all pending"); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE scan_results SET status = ?, updated_at = ? WHERE scan_id = ? AND status = ?`,
			status, formatTime(time.Now()), scanID, ResultPending,
		)
		if err != nil {
			return fmt.Errorf("update pending results: %w", err)
		}
		n, _ := res.RowsAffected()
		changed = int(n)
		return nil
	})
	if err == nil || errors.Is(err, services.ErrNotFound) {
		return changed, err
	}
	return 0, services.Wrap(services.ErrStorage, component, "set all pending", scanID, err)
}

func requireScan(ctx context.Context, tx *sql.Tx, scanID, operation string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM scans WHERE id = ?`, scanID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(operation, "scan "+scanID)
	}
	return err
}

func validateResultStatus(status ResultStatus) error {
	switch status {
	case ResultPending, ResultAccepted, ResultRejected:
		return nil
	default:
		return services.Wrap(services.ErrValidation, component, "set result status", fmt.Sprintf("unknown result status %q", status), nil)
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
