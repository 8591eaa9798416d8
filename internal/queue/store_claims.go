package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ClaimBatch selects up to maxSize records eligible for stage, ordered by
// priority (ascending) then age, and claims each by moving it to processing
// under a status guard. Eligible records wait in the stage's waiting status or
// sit in retry_scheduled for the stage with next_attempt_at due. A non-empty
// batchID restricts selection to that ingestion batch. Records claimed by a
// concurrent caller between selection and claim are skipped.
func (s *Store) ClaimBatch(ctx context.Context, stage Stage, maxSize int, batchID string) ([]*Record, error) {
	waiting := stage.WaitingStatus()
	if waiting == "" {
		return nil, fmt.Errorf("claim batch: unknown stage %q", stage)
	}
	if maxSize <= 0 {
		return nil, nil
	}
	now := formatTime(s.now())

	query := `SELECT id, status FROM records
        WHERE stage = ?
          AND (status = ? OR (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)))`
	args := []any{stage, waiting, StatusRetryScheduled, now}
	if batchID = strings.TrimSpace(batchID); batchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, batchID)
	}
	query += ` ORDER BY priority ASC, created_at ASC, id ASC LIMIT ?`
	args = append(args, maxSize)

	type candidate struct {
		id     int64
		status Status
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select batch: %w", err)
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.status); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	claimed := make([]any, 0, len(candidates))
	for _, c := range candidates {
		ok, err := s.claim(ctx, c.id, stage, c.status, now)
		if err != nil {
			return nil, err
		}
		if ok {
			claimed = append(claimed, c.id)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id IN (`+makePlaceholders(len(claimed))+`)
        ORDER BY priority ASC, created_at ASC, id ASC`, claimed...)
	if err != nil {
		return nil, fmt.Errorf("load claimed batch: %w", err)
	}
	return collectRecords(rows)
}

// ClaimRecord claims a single record for stage if it is currently eligible.
// It returns nil without error when the record is missing, already claimed, or
// waiting on a different stage.
func (s *Store) ClaimRecord(ctx context.Context, id int64, stage Stage) (*Record, error) {
	rec, err := s.GetByID(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Stage != stage {
		return nil, nil
	}
	switch rec.Status {
	case stage.WaitingStatus():
	case StatusRetryScheduled:
		if rec.NextAttemptAt != nil && rec.NextAttemptAt.After(s.now()) {
			return nil, nil
		}
	default:
		return nil, nil
	}
	ok, err := s.claim(ctx, id, stage, rec.Status, formatTime(s.now()))
	if err != nil || !ok {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *Store) claim(ctx context.Context, id int64, stage Stage, from Status, now string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE records SET status = ?, claimed_at = ?, claim_token = ?, updated_at = ?
        WHERE id = ? AND status = ? AND stage = ?`,
		StatusProcessing, now, uuid.NewString(), now, id, from, stage)
	if err != nil {
		return false, fmt.Errorf("claim record %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim record %d: rows affected: %w", id, err)
	}
	return affected == 1, nil
}

// ReleaseClaim returns a processing record to the waiting status of its stage
// without touching retry bookkeeping. Used on shutdown when a claimed record
// was never executed. A claim that was swept and re-claimed since rec was
// loaded yields ErrStatusConflict.
func (s *Store) ReleaseClaim(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("release claim: nil record")
	}
	rec.Status = rec.Stage.WaitingStatus()
	return s.UpdateIfStatus(ctx, rec, StatusProcessing)
}
