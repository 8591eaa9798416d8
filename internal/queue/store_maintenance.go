package queue

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// StatusCounts returns the number of records per status.
func (s *Store) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// StageCount is the number of records per status for one stage.
type StageCount struct {
	Stage  Stage
	Status Status
	Count  int
}

// StageStatusCounts groups records by stage and status, in pipeline order.
func (s *Store) StageStatusCounts(ctx context.Context) ([]StageCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, status, COUNT(1) FROM records GROUP BY stage, status`)
	if err != nil {
		return nil, fmt.Errorf("stage counts: %w", err)
	}
	defer rows.Close()
	var out []StageCount
	for rows.Next() {
		var c StageCount
		if err := rows.Scan(&c.Stage, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	statusIndex := make(map[Status]int, len(statusOrder))
	for i, status := range statusOrder {
		statusIndex[status] = i
	}
	slices.SortFunc(out, func(a, b StageCount) int {
		if a.Stage != b.Stage {
			return cmp.Compare(a.Stage.Index(), b.Stage.Index())
		}
		return cmp.Compare(statusIndex[a.Status], statusIndex[b.Status])
	})
	return out, nil
}

// ReasonCount is the number of terminal records sharing a reason.
type ReasonCount struct {
	Status Status
	Reason string
	Count  int
}

// ReasonCounts reports reasons per terminal non-success status, most frequent first.
func (s *Store) ReasonCounts(ctx context.Context, limit int) ([]ReasonCount, error) {
	if limit <= 0 {
		limit = 50
	}
	statuses := []Status{
		StatusStage1Rejected, StatusStage2Rejected, StatusEnrichmentFailed,
		StatusError, StatusFailedPermanently,
	}
	args := append(statusArgs(statuses), limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COALESCE(reason, ''), COUNT(1) AS n FROM records
        WHERE status IN (`+makePlaceholders(len(statuses))+`)
        GROUP BY status, reason ORDER BY n DESC, status ASC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("reason counts: %w", err)
	}
	defer rows.Close()
	var out []ReasonCount
	for rows.Next() {
		var c ReasonCount
		if err := rows.Scan(&c.Status, &c.Reason, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListStuck returns non-terminal records not updated since cutoff, oldest first.
func (s *Store) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 200
	}
	statuses := append([]Status{StatusProcessing, StatusRetryScheduled}, waitingStatuses()...)
	args := append(statusArgs(statuses), formatTime(cutoff), limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records
        WHERE status IN (`+makePlaceholders(len(statuses))+`) AND updated_at < ?
        ORDER BY updated_at ASC, id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list stuck records: %w", err)
	}
	return collectRecords(rows)
}

// DatabaseHealth describes the state of the database file and schema.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	TotalRecords     int
	TotalLeads       int
	Error            string
}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	for _, table := range []string{"schema_version", "ingest_batches", "records", "leads", "credentials"} {
		var name string
		err := s.db.QueryRowContext(connCtx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			health.MissingTables = append(health.MissingTables, table)
			continue
		}
		if err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("query table %s: %w", table, err)
		}
	}
	if len(health.MissingTables) > 0 {
		return health, nil
	}

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM records").Scan(&health.TotalRecords); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count records: %w", err)
	}
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM leads").Scan(&health.TotalLeads); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count leads: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
