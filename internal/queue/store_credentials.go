package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const credentialColumns = "account_id, daily_limit, daily_usage_count, usage_date, last_call_at, current_operation_id, operation_started_at, total_calls"

// SyncCredentials inserts missing credential rows and refreshes daily limits.
// Usage counters of existing rows are preserved.
func (s *Store) SyncCredentials(ctx context.Context, specs []CredentialSpec) error {
	now := formatTime(s.now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, spec := range specs {
			id := strings.TrimSpace(spec.AccountID)
			if id == "" {
				return errors.New("sync credentials: account id required")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO credentials (account_id, daily_limit, updated_at) VALUES (?, ?, ?)
                ON CONFLICT(account_id) DO UPDATE SET daily_limit = excluded.daily_limit, updated_at = excluded.updated_at`,
				id, spec.DailyLimit, now); err != nil {
				return fmt.Errorf("sync credential %s: %w", id, err)
			}
		}
		return nil
	})
}

// ListCredentials returns every credential ordered by account id. Usage
// counters from a previous day are reported as zero.
func (s *Store) ListCredentials(ctx context.Context) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()
	today := UsageDay(s.now())
	var out []Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		cred.rollover(today)
		out = append(out, *cred)
	}
	return out, rows.Err()
}

// GetCredential returns one credential, or ErrUnknownCredential.
func (s *Store) GetCredential(ctx context.Context, accountID string) (Credential, error) {
	cred, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE account_id = ?`, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, fmt.Errorf("%w: %s", ErrUnknownCredential, accountID)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("get credential %s: %w", accountID, err)
	}
	cred.rollover(UsageDay(s.now()))
	return *cred, nil
}

// ClaimCredential marks the credential as held by opID. It fails with
// ErrCredentialBusy when another operation holds it and ErrQuotaExhausted when
// the daily limit is already spent. The returned credential reflects the claim.
func (s *Store) ClaimCredential(ctx context.Context, accountID, opID string, now time.Time) (Credential, error) {
	if strings.TrimSpace(opID) == "" {
		return Credential{}, errors.New("claim credential: operation id required")
	}
	var out Credential
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cred, err := scanCredential(tx.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials WHERE account_id = ?`, accountID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrUnknownCredential, accountID)
		}
		if err != nil {
			return err
		}
		cred.rollover(UsageDay(now))
		if cred.Busy() && cred.CurrentOperationID != opID {
			return fmt.Errorf("%w: %s held by %s", ErrCredentialBusy, accountID, cred.CurrentOperationID)
		}
		if cred.DailyLimit > 0 && cred.DailyUsageCount >= cred.DailyLimit {
			return fmt.Errorf("%w: %s used %d of %d", ErrQuotaExhausted, accountID, cred.DailyUsageCount, cred.DailyLimit)
		}
		started := now.UTC()
		cred.CurrentOperationID = opID
		cred.OperationStartedAt = &started
		res, err := tx.ExecContext(ctx,
			`UPDATE credentials SET current_operation_id = ?, operation_started_at = ?,
                daily_usage_count = ?, usage_date = ?, updated_at = ?
            WHERE account_id = ? AND (current_operation_id IS NULL OR current_operation_id = ?)`,
			opID, formatTime(started), cred.DailyUsageCount, cred.UsageDate, formatTime(now),
			accountID, opID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrCredentialBusy, accountID)
		}
		out = *cred
		return nil
	})
	if err != nil {
		return Credential{}, fmt.Errorf("claim credential: %w", err)
	}
	return out, nil
}

// RecordCredentialCall consumes one unit of daily quota for an outbound call
// made under opID and stamps last_call_at. It fails with ErrQuotaExhausted
// when no quota remains, in which case no call may be made.
func (s *Store) RecordCredentialCall(ctx context.Context, accountID, opID string, now time.Time) (Credential, error) {
	var out Credential
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cred, err := scanCredential(tx.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials WHERE account_id = ?`, accountID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrUnknownCredential, accountID)
		}
		if err != nil {
			return err
		}
		if cred.CurrentOperationID != opID {
			return fmt.Errorf("%w: %s held by %q", ErrOperationMismatch, accountID, cred.CurrentOperationID)
		}
		cred.rollover(UsageDay(now))
		if cred.DailyLimit > 0 && cred.DailyUsageCount >= cred.DailyLimit {
			return fmt.Errorf("%w: %s used %d of %d", ErrQuotaExhausted, accountID, cred.DailyUsageCount, cred.DailyLimit)
		}
		called := now.UTC()
		cred.DailyUsageCount++
		cred.TotalCalls++
		cred.LastCallAt = &called
		if _, err := tx.ExecContext(ctx,
			`UPDATE credentials SET daily_usage_count = ?, usage_date = ?, last_call_at = ?,
                total_calls = ?, updated_at = ?
            WHERE account_id = ?`,
			cred.DailyUsageCount, cred.UsageDate, formatTime(called), cred.TotalCalls, formatTime(now), accountID); err != nil {
			return err
		}
		out = *cred
		return nil
	})
	if err != nil {
		return Credential{}, fmt.Errorf("record credential call: %w", err)
	}
	return out, nil
}

// ReleaseCredential clears the claim held by opID. Releasing a credential
// that is no longer held by opID returns ErrOperationMismatch.
func (s *Store) ReleaseCredential(ctx context.Context, accountID, opID string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE credentials SET current_operation_id = NULL, operation_started_at = NULL, updated_at = ?
        WHERE account_id = ? AND current_operation_id = ?`,
		formatTime(s.now()), accountID, opID)
	if err != nil {
		return fmt.Errorf("release credential %s: %w", accountID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("release credential %s: %w", accountID, err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s not held by %s", ErrOperationMismatch, accountID, opID)
	}
	return nil
}

// ForceReleaseCredentials clears claims whose operation started before cutoff
// and returns the affected account ids.
func (s *Store) ForceReleaseCredentials(ctx context.Context, cutoff time.Time) ([]string, error) {
	var released []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT account_id FROM credentials
            WHERE current_operation_id IS NOT NULL AND operation_started_at < ?
            ORDER BY account_id`, formatTime(cutoff))
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE credentials SET current_operation_id = NULL, operation_started_at = NULL, updated_at = ?
                WHERE account_id = ? AND operation_started_at < ?`,
				formatTime(s.now()), id, formatTime(cutoff)); err != nil {
				return err
			}
		}
		released = ids
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("force release credentials: %w", err)
	}
	return released, nil
}

// rollover zeroes the daily counter when the stored usage day is not today.
func (c *Credential) rollover(today string) {
	if c.UsageDate != today {
		c.UsageDate = today
		c.DailyUsageCount = 0
	}
}

func scanCredential(scanner rowScanner) (*Credential, error) {
	var (
		cred      Credential
		usageDate sql.NullString
		lastCall  sql.NullString
		opID      sql.NullString
		opStarted sql.NullString
	)
	if err := scanner.Scan(
		&cred.AccountID, &cred.DailyLimit, &cred.DailyUsageCount, &usageDate,
		&lastCall, &opID, &opStarted, &cred.TotalCalls,
	); err != nil {
		return nil, err
	}
	cred.UsageDate = usageDate.String
	cred.LastCallAt = parseNullableTime(lastCall)
	cred.CurrentOperationID = opID.String
	cred.OperationStartedAt = parseNullableTime(opStarted)
	return &cred, nil
}
