package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// InsertRecord stores a new record in the queued state. Inserting a natural key
// that already exists is a no-op: the existing record is returned with
// created=false.
func (s *Store) InsertRecord(ctx context.Context, in NewRecord) (*Record, bool, error) {
	naturalKey := strings.TrimSpace(in.NaturalKey)
	if naturalKey == "" {
		return nil, false, errors.New("insert record: natural key required")
	}
	subject := in.Payload.SubjectKey()
	if subject == "" {
		return nil, false, errors.New("insert record: author profile id required")
	}
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("insert record: encode payload: %w", err)
	}
	now := formatTime(s.now())

	res, err := s.execWithRetry(ctx,
		`INSERT INTO records (
            natural_key, batch_id, subject_key, payload_json, status, stage,
            stage_results_json, priority, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, '{}', ?, ?, ?)
        ON CONFLICT(natural_key) DO NOTHING`,
		naturalKey,
		strings.TrimSpace(in.BatchID),
		subject,
		string(payload),
		StatusQueued,
		StageIntent,
		in.Priority,
		now,
		now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert record: rows affected: %w", err)
	}

	rec, err := s.GetByNaturalKey(ctx, naturalKey)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, fmt.Errorf("insert record: %q vanished after insert", naturalKey)
	}
	return rec, affected == 1, nil
}

// GetByID fetches a record by ID. It returns nil without error when no record matches.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// GetByNaturalKey fetches a record by its natural key, or nil.
func (s *Store) GetByNaturalKey(ctx context.Context, naturalKey string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE natural_key = ?`, strings.TrimSpace(naturalKey))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record by natural key: %w", err)
	}
	return rec, nil
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	Statuses   []Status
	BatchID    string
	SubjectKey string
	Limit      int
}

// ListRecords returns records matching the filter, newest first.
func (s *Store) ListRecords(ctx context.Context, filter RecordFilter) ([]*Record, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		args = append(args, statusArgs(filter.Statuses)...)
	}
	if filter.BatchID != "" {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.SubjectKey != "" {
		clauses = append(clauses, "subject_key = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(filter.SubjectKey)))
	}
	query := `SELECT ` + recordColumns + ` FROM records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return collectRecords(rows)
}

// UpdateIfStatus persists every mutable field of rec, provided the stored
// status still equals expected. When expected is processing the stored claim
// token must also equal rec.ClaimToken, so a writer holding a claim that was
// swept and re-claimed cannot overwrite the newer claim. It returns
// ErrStatusConflict otherwise. On success rec.UpdatedAt reflects the write and
// the claim fields are cleared unless the new status is processing.
func (s *Store) UpdateIfStatus(ctx context.Context, rec *Record, expected Status) error {
	if rec == nil {
		return errors.New("update record: nil record")
	}
	results, err := encodeResults(rec.Results)
	if err != nil {
		return err
	}
	now := s.now()
	guard, guardArgs := claimGuard(expected, rec.ClaimToken)
	claimedAt, claimToken := rec.ClaimedAt, rec.ClaimToken
	if rec.Status != StatusProcessing {
		claimedAt, claimToken = nil, ""
	}
	args := []any{
		rec.Status,
		rec.Stage,
		results,
		rec.Priority,
		rec.RetryCount,
		nullableTime(rec.LastRetryAt),
		nullableTime(rec.NextAttemptAt),
		nullableTime(claimedAt),
		nullableString(claimToken),
		nullableString(rec.Reason),
		nullableString(rec.LeadID),
		formatTime(now),
		rec.ID,
		expected,
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE records SET
            status = ?, stage = ?, stage_results_json = ?, priority = ?, retry_count = ?,
            last_retry_at = ?, next_attempt_at = ?, claimed_at = ?, claim_token = ?, reason = ?,
            lead_id = ?, updated_at = ?
        WHERE id = ? AND status = ?`+guard,
		append(args, guardArgs...)...,
	)
	if err != nil {
		return fmt.Errorf("update record %d: %w", rec.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record %d: rows affected: %w", rec.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: record %d is no longer %s", ErrStatusConflict, rec.ID, expected)
	}
	rec.UpdatedAt = now
	rec.ClaimedAt, rec.ClaimToken = claimedAt, claimToken
	return nil
}

// claimGuard narrows a write out of processing to the claim that loaded the
// record.
func claimGuard(expected Status, token string) (string, []any) {
	if expected != StatusProcessing {
		return "", nil
	}
	return " AND claim_token IS ?", []any{nullableString(token)}
}

// BeginBatch registers an ingestion batch. Re-running a batch ID keeps the
// original start time.
func (s *Store) BeginBatch(ctx context.Context, id, source string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO ingest_batches (id, source, started_at) VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET source = excluded.source, completed_at = NULL`,
		id, nullableString(source), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("begin batch %s: %w", id, err)
	}
	return nil
}

// CompleteBatch adds the ingestion counters to the batch and stamps completion.
func (s *Store) CompleteBatch(ctx context.Context, batch IngestBatch) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE ingest_batches SET
            completed_at = ?, received = received + ?, inserted = inserted + ?,
            duplicates = duplicates + ?, dropped = dropped + ?
        WHERE id = ?`,
		formatTime(s.now()), batch.Received, batch.Inserted, batch.Duplicates, batch.Dropped, batch.ID)
	if err != nil {
		return fmt.Errorf("complete batch %s: %w", batch.ID, err)
	}
	return nil
}

// ListBatches returns recent ingestion batches, newest first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]IngestBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, started_at, completed_at, received, inserted, duplicates, dropped
        FROM ingest_batches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	var out []IngestBatch
	for rows.Next() {
		var (
			b         IngestBatch
			source    sql.NullString
			started   string
			completed sql.NullString
		)
		if err := rows.Scan(&b.ID, &source, &started, &completed, &b.Received, &b.Inserted, &b.Duplicates, &b.Dropped); err != nil {
			return nil, err
		}
		b.Source = source.String
		if t, err := parseTimeString(started); err == nil {
			b.StartedAt = t
		}
		b.CompletedAt = parseNullableTime(completed)
		out = append(out, b)
	}
	return out, rows.Err()
}
