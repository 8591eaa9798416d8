package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const leadColumns = "id, subject_key, full_name, headline, company, title, location, profile_url, category, roles_json, origin_record_id, latest_record_id, latest_activity_at, latest_post_url, record_count, created_at, updated_at"

// LeadDraft carries the fields a record contributes to its lead.
type LeadDraft struct {
	SubjectKey string
	Profile    Profile
	Category   string
	Roles      []string
	ActivityAt time.Time
	PostURL    string
}

// Materialization is the outcome of CommitMaterialization.
type Materialization struct {
	Lead    Lead
	Created bool
}

// CommitMaterialization creates or merges the lead for rec's subject and moves
// rec out of expected in one transaction. When no lead exists for the subject
// (or the existing lead originated from rec itself) the record becomes
// materialized; otherwise the lead's latest-activity fields are merged and the
// record becomes duplicate. Leaving processing requires rec's claim to still be
// the current one. The caller's rec is updated in place on success.
func (s *Store) CommitMaterialization(ctx context.Context, rec *Record, expected Status, draft LeadDraft) (Materialization, error) {
	var out Materialization
	if rec == nil {
		return out, errors.New("commit materialization: nil record")
	}
	subject := strings.ToLower(strings.TrimSpace(draft.SubjectKey))
	if subject == "" {
		return out, errors.New("commit materialization: subject key required")
	}
	roles, err := json.Marshal(draft.Roles)
	if err != nil {
		return out, fmt.Errorf("commit materialization: encode roles: %w", err)
	}
	activity := draft.ActivityAt
	if activity.IsZero() {
		activity = s.now()
	}
	now := s.now()

	updated := rec.Clone()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE subject_key = ?`, subject))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			lead := Lead{
				ID:               uuid.NewString(),
				SubjectKey:       subject,
				FullName:         draft.Profile.FullName,
				Headline:         draft.Profile.Headline,
				Company:          draft.Profile.Company,
				Title:            draft.Profile.Title,
				Location:         draft.Profile.Location,
				ProfileURL:       draft.Profile.ProfileURL,
				Category:         draft.Category,
				Roles:            draft.Roles,
				OriginRecordID:   rec.ID,
				LatestRecordID:   rec.ID,
				LatestActivityAt: activity.UTC(),
				LatestPostURL:    draft.PostURL,
				RecordCount:      1,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				lead.ID, lead.SubjectKey,
				nullableString(lead.FullName), nullableString(lead.Headline), nullableString(lead.Company),
				nullableString(lead.Title), nullableString(lead.Location), nullableString(lead.ProfileURL),
				nullableString(lead.Category), string(roles),
				lead.OriginRecordID, lead.LatestRecordID, formatTime(lead.LatestActivityAt),
				nullableString(lead.LatestPostURL), lead.RecordCount, formatTime(now), formatTime(now),
			); err != nil {
				return fmt.Errorf("insert lead: %w", err)
			}
			out = Materialization{Lead: lead, Created: true}
		case err != nil:
			return fmt.Errorf("lookup lead: %w", err)
		case existing.OriginRecordID == rec.ID:
			out = Materialization{Lead: *existing, Created: true}
		default:
			lead := *existing
			lead.RecordCount++
			lead.UpdatedAt = now
			if !activity.Before(lead.LatestActivityAt) {
				lead.LatestActivityAt = activity.UTC()
				lead.LatestRecordID = rec.ID
				if draft.PostURL != "" {
					lead.LatestPostURL = draft.PostURL
				}
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE leads SET latest_record_id = ?, latest_activity_at = ?, latest_post_url = ?,
                    record_count = ?, updated_at = ?
                WHERE id = ?`,
				lead.LatestRecordID, formatTime(lead.LatestActivityAt), nullableString(lead.LatestPostURL),
				lead.RecordCount, formatTime(now), lead.ID,
			); err != nil {
				return fmt.Errorf("merge lead: %w", err)
			}
			out = Materialization{Lead: lead, Created: false}
		}

		updated.LeadID = out.Lead.ID
		updated.Results.Materialization = &MaterializationResult{LeadID: out.Lead.ID, Duplicate: !out.Created}
		updated.ClaimedAt = nil
		updated.ClaimToken = ""
		updated.NextAttemptAt = nil
		if out.Created {
			updated.Status = StatusMaterialized
			updated.Reason = ""
		} else {
			updated.Status = StatusDuplicate
			updated.Reason = "lead already exists for subject " + subject
		}
		results, err := encodeResults(updated.Results)
		if err != nil {
			return err
		}
		guard, guardArgs := claimGuard(expected, rec.ClaimToken)
		args := []any{
			updated.Status, results, updated.LeadID, nullableString(updated.Reason), formatTime(now),
			rec.ID, expected,
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE records SET status = ?, stage_results_json = ?, lead_id = ?, reason = ?,
                claimed_at = NULL, claim_token = NULL, next_attempt_at = NULL, updated_at = ?
            WHERE id = ? AND status = ?`+guard,
			append(args, guardArgs...)...)
		if err != nil {
			return fmt.Errorf("update record %d: %w", rec.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: record %d is no longer %s", ErrStatusConflict, rec.ID, expected)
		}
		return nil
	})
	if err != nil {
		return Materialization{}, fmt.Errorf("commit materialization: %w", err)
	}
	updated.UpdatedAt = now
	*rec = *updated
	return out, nil
}

// FindLeadBySubject returns the lead for a subject key, or nil.
func (s *Store) FindLeadBySubject(ctx context.Context, subjectKey string) (*Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE subject_key = ?`, strings.ToLower(strings.TrimSpace(subjectKey))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find lead by subject: %w", err)
	}
	return lead, nil
}

// GetLead returns a lead by ID, or nil.
func (s *Store) GetLead(ctx context.Context, id string) (*Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead %s: %w", id, err)
	}
	return lead, nil
}

// ListLeads returns leads ordered by latest activity, newest first.
func (s *Store) ListLeads(ctx context.Context, category string, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + leadColumns + ` FROM leads`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY latest_activity_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()
	var out []Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lead)
	}
	return out, rows.Err()
}

// RecentEnrichment returns the newest record for subjectKey, other than
// excludeID, whose enrichment result was looked up at or after since.
func (s *Store) RecentEnrichment(ctx context.Context, subjectKey string, excludeID int64, since time.Time) (*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records
        WHERE subject_key = ? AND id != ? AND updated_at >= ?
          AND json_extract(stage_results_json, '$.enrichment') IS NOT NULL
        ORDER BY id DESC LIMIT 20`,
		strings.ToLower(strings.TrimSpace(subjectKey)), excludeID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("recent enrichment: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if e := rec.Results.Enrichment; e != nil && !e.EnrichedAt.Before(since) {
			return rec, nil
		}
	}
	return nil, nil
}

func scanLead(scanner rowScanner) (*Lead, error) {
	var (
		lead                                                                 Lead
		fullName, headline, company, title, location, profileURL, category sql.NullString
		rolesRaw, latestActivity, createdRaw, updatedRaw                    string
		latestPost                                                           sql.NullString
	)
	if err := scanner.Scan(
		&lead.ID, &lead.SubjectKey,
		&fullName, &headline, &company, &title, &location, &profileURL, &category,
		&rolesRaw, &lead.OriginRecordID, &lead.LatestRecordID, &latestActivity, &latestPost,
		&lead.RecordCount, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	lead.FullName = fullName.String
	lead.Headline = headline.String
	lead.Company = company.String
	lead.Title = title.String
	lead.Location = location.String
	lead.ProfileURL = profileURL.String
	lead.Category = category.String
	lead.LatestPostURL = latestPost.String
	if rolesRaw != "" {
		if err := json.Unmarshal([]byte(rolesRaw), &lead.Roles); err != nil {
			return nil, fmt.Errorf("decode lead roles: %w", err)
		}
	}
	if t, err := parseTimeString(latestActivity); err == nil {
		lead.LatestActivityAt = t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		lead.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		lead.UpdatedAt = t
	}
	return &lead, nil
}
