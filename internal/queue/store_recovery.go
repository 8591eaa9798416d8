package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RequeueStale returns processing records not updated since cutoff to the
// waiting status of their stage, dropping their claim and adding penalty to
// their priority so fresh work runs first. Records already waiting are left
// alone. It returns the requeued record IDs.
func (s *Store) RequeueStale(ctx context.Context, cutoff time.Time, penalty int) ([]int64, error) {
	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM records
            WHERE status = ? AND updated_at < ?
            ORDER BY id`, StatusProcessing, formatTime(cutoff))
		if err != nil {
			return err
		}
		ids, err = scanIDs(rows)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		updateArgs := []any{penalty, formatTime(s.now())}
		for _, id := range ids {
			updateArgs = append(updateArgs, id)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET status = `+waitingStatusCase()+`, priority = priority + ?,
                claimed_at = NULL, claim_token = NULL, updated_at = ?
            WHERE id IN (`+makePlaceholders(len(ids))+`)`, updateArgs...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("requeue stale records: %w", err)
	}
	return ids, nil
}

// ListRejected returns stage1_rejected and stage2_rejected records updated at
// or after since, oldest first.
func (s *Store) ListRejected(ctx context.Context, since time.Time, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records
        WHERE status IN (?, ?) AND updated_at >= ?
        ORDER BY updated_at ASC, id ASC LIMIT ?`,
		StatusStage1Rejected, StatusStage2Rejected, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list rejected records: %w", err)
	}
	return collectRecords(rows)
}

// SubjectAdvanced reports whether the subject already has a lead, or another
// record for it has moved past stage 1 without being rejected.
func (s *Store) SubjectAdvanced(ctx context.Context, subjectKey string, excludeID int64) (bool, error) {
	subjectKey = strings.ToLower(strings.TrimSpace(subjectKey))
	var leads int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM leads WHERE subject_key = ?`, subjectKey).Scan(&leads); err != nil {
		return false, fmt.Errorf("subject advanced: %w", err)
	}
	if leads > 0 {
		return true, nil
	}
	later := []Status{
		StatusAwaitingStage2, StatusAwaitingStage3, StatusAwaitingEnrichment,
		StatusAwaitingMaterialization, StatusMaterialized, StatusDuplicate,
	}
	args := append([]any{subjectKey, excludeID}, statusArgs(later)...)
	args = append(args, StatusProcessing, StatusRetryScheduled, StageIntent)
	var records int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM records
        WHERE subject_key = ? AND id != ?
          AND (status IN (`+makePlaceholders(len(later))+`) OR (status IN (?, ?) AND stage != ?))`,
		args...).Scan(&records); err != nil {
		return false, fmt.Errorf("subject advanced: %w", err)
	}
	return records > 0, nil
}

// RequalifyRecord resets a rejected record to queued with cleared results and
// retry_count 0, provided it is still in expected.
func (s *Store) RequalifyRecord(ctx context.Context, id int64, expected Status, reason string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE records SET status = ?, stage = ?, stage_results_json = '{}', retry_count = 0,
            last_retry_at = NULL, next_attempt_at = NULL, claimed_at = NULL, claim_token = NULL,
            reason = ?, updated_at = ?
        WHERE id = ? AND status = ?`,
		StatusQueued, StageIntent, nullableString(reason), formatTime(s.now()), id, expected)
	if err != nil {
		return fmt.Errorf("requalify record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requalify record %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: record %d is no longer %s", ErrStatusConflict, id, expected)
	}
	return nil
}

// ForceReprocess resets error, failed_permanently, and retry_scheduled records
// to queued with cleared stage outputs. A non-empty batchID limits the reset
// to that batch. It returns the number of records reset.
func (s *Store) ForceReprocess(ctx context.Context, batchID string) (int64, error) {
	statuses := []Status{StatusError, StatusFailedPermanently, StatusRetryScheduled}
	args := []any{StatusQueued, StageIntent, formatTime(s.now())}
	args = append(args, statusArgs(statuses)...)
	query := `UPDATE records SET status = ?, stage = ?, stage_results_json = '{}', retry_count = 0,
            last_retry_at = NULL, next_attempt_at = NULL, claimed_at = NULL, claim_token = NULL,
            reason = NULL, lead_id = NULL, updated_at = ?
        WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
	if batchID = strings.TrimSpace(batchID); batchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, batchID)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("force reprocess: %w", err)
	}
	return res.RowsAffected()
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
