package api

import (
	"context"
	"fmt"
	"time"

	"leadpipe/internal/queue"
)

// Reader abstracts the store queries needed for API reports.
type Reader interface {
	StatusCounts(ctx context.Context) (map[queue.Status]int, error)
	StageStatusCounts(ctx context.Context) ([]queue.StageCount, error)
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*queue.Record, error)
	ReasonCounts(ctx context.Context, limit int) ([]queue.ReasonCount, error)
	GetByID(ctx context.Context, id int64) (*queue.Record, error)
	ListRecords(ctx context.Context, filter queue.RecordFilter) ([]*queue.Record, error)
	ListLeads(ctx context.Context, category string, limit int) ([]queue.Lead, error)
	GetLead(ctx context.Context, id string) (*queue.Lead, error)
	ListBatches(ctx context.Context, limit int) ([]queue.IngestBatch, error)
	ListCredentials(ctx context.Context) ([]queue.Credential, error)
}

// CredentialLister reports credential usage. When the shared ledger lives
// outside the record store it replaces the store's own credential table.
type CredentialLister interface {
	ListCredentials(ctx context.Context) ([]queue.Credential, error)
}

// QueueService exposes read-only pipeline reports returning API DTOs.
type QueueService struct {
	store       Reader
	credentials CredentialLister
	now         func() time.Time
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store Reader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store, credentials: store, now: time.Now}
}

// UseCredentials reports credentials from lister instead of the store.
func (s *QueueService) UseCredentials(lister CredentialLister) {
	if s != nil && lister != nil {
		s.credentials = lister
	}
}

// SetClock overrides the time source used for stuck-record cutoffs.
func (s *QueueService) SetClock(now func() time.Time) {
	if s != nil && now != nil {
		s.now = now
	}
}

// Stats returns record counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil {
		return nil, nil
	}
	stats, err := s.store.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Stages returns record counts per stage and status.
func (s *QueueService) Stages(ctx context.Context) ([]StageCount, error) {
	if s == nil {
		return nil, nil
	}
	counts, err := s.store.StageStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StageCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, StageCount{Stage: string(c.Stage), Status: string(c.Status), Count: c.Count})
	}
	return out, nil
}

// Stuck lists non-terminal records untouched for longer than hours.
func (s *QueueService) Stuck(ctx context.Context, hours, limit int) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	if hours <= 0 {
		return nil, fmt.Errorf("stuck threshold must be positive, got %d hours", hours)
	}
	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)
	records, err := s.store.ListStuck(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return FromRecords(records), nil
}

// Credentials returns per-account usage.
func (s *QueueService) Credentials(ctx context.Context) ([]Credential, error) {
	if s == nil {
		return nil, nil
	}
	creds, err := s.credentials.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Credential, 0, len(creds))
	for _, cred := range creds {
		out = append(out, FromCredential(cred))
	}
	return out, nil
}

// Reasons returns reason counts for terminal non-success statuses.
func (s *QueueService) Reasons(ctx context.Context, limit int) ([]ReasonCount, error) {
	if s == nil {
		return nil, nil
	}
	counts, err := s.store.ReasonCounts(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ReasonCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, ReasonCount{Status: string(c.Status), Reason: c.Reason, Count: c.Count})
	}
	return out, nil
}

// RecordQuery filters List.
type RecordQuery struct {
	Statuses []string
	BatchID  string
	Subject  string
	Limit    int
}

// List returns records matching query, newest first. Unknown statuses are
// rejected.
func (s *QueueService) List(ctx context.Context, query RecordQuery) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	filter := queue.RecordFilter{BatchID: query.BatchID, SubjectKey: query.Subject, Limit: query.Limit}
	for _, raw := range query.Statuses {
		status, ok := queue.ParseStatus(raw)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", raw)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	records, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromRecords(records), nil
}

// Describe fetches a single record, or nil.
func (s *QueueService) Describe(ctx context.Context, id int64) (*Record, error) {
	if s == nil {
		return nil, nil
	}
	rec, err := s.store.GetByID(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	dto := FromRecord(rec)
	return &dto, nil
}

// Leads lists leads, optionally filtered by category.
func (s *QueueService) Leads(ctx context.Context, category string, limit int) ([]Lead, error) {
	if s == nil {
		return nil, nil
	}
	leads, err := s.store.ListLeads(ctx, category, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Lead, 0, len(leads))
	for _, lead := range leads {
		out = append(out, FromLead(lead))
	}
	return out, nil
}

// Lead fetches one lead, or nil.
func (s *QueueService) Lead(ctx context.Context, id string) (*Lead, error) {
	if s == nil {
		return nil, nil
	}
	lead, err := s.store.GetLead(ctx, id)
	if err != nil || lead == nil {
		return nil, err
	}
	dto := FromLead(*lead)
	return &dto, nil
}

// Batches lists recent ingestion batches.
func (s *QueueService) Batches(ctx context.Context, limit int) ([]Batch, error) {
	if s == nil {
		return nil, nil
	}
	batches, err := s.store.ListBatches(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Batch, 0, len(batches))
	for _, b := range batches {
		out = append(out, FromBatch(b))
	}
	return out, nil
}
