package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const recordColumns = "id, natural_key, batch_id, subject_key, payload_json, status, stage, stage_results_json, priority, retry_count, last_retry_at, next_attempt_at, claimed_at, claim_token, reason, lead_id, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var (
		rec         Record
		statusStr   string
		stageStr    string
		payloadRaw  string
		resultsRaw  string
		lastRetry   sql.NullString
		nextAttempt sql.NullString
		claimed     sql.NullString
		claimToken  sql.NullString
		reason      sql.NullString
		leadID      sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.NaturalKey,
		&rec.BatchID,
		&rec.SubjectKey,
		&payloadRaw,
		&statusStr,
		&stageStr,
		&resultsRaw,
		&rec.Priority,
		&rec.RetryCount,
		&lastRetry,
		&nextAttempt,
		&claimed,
		&claimToken,
		&reason,
		&leadID,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec.Status = Status(statusStr)
	rec.Stage = Stage(stageStr)
	rec.Reason = reason.String
	rec.LeadID = leadID.String
	if err := json.Unmarshal([]byte(payloadRaw), &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode payload for record %d: %w", rec.ID, err)
	}
	results, err := decodeResults(resultsRaw)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.ID, err)
	}
	rec.Results = results
	rec.LastRetryAt = parseNullableTime(lastRetry)
	rec.NextAttemptAt = parseNullableTime(nextAttempt)
	rec.ClaimedAt = parseNullableTime(claimed)
	rec.ClaimToken = claimToken.String
	if t, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return formatTime(*value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}

// waitingStatusCase renders a CASE expression mapping the stage column to the
// stage's waiting status.
func waitingStatusCase() string {
	var b strings.Builder
	b.WriteString("CASE stage")
	for _, stage := range stageOrder {
		fmt.Fprintf(&b, " WHEN '%s' THEN '%s'", stage, stage.WaitingStatus())
	}
	b.WriteString(" ELSE status END")
	return b.String()
}
