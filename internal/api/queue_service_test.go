package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadpipe/internal/queue"
)

type mockReader struct {
	records     []*queue.Record
	stats       map[queue.Status]int
	stuckCutoff time.Time
	filter      queue.RecordFilter
	creds       []queue.Credential
	err         error
}

func (m *mockReader) StatusCounts(context.Context) (map[queue.Status]int, error) {
	return m.stats, m.err
}

func (m *mockReader) StageStatusCounts(context.Context) ([]queue.StageCount, error) {
	return []queue.StageCount{{Stage: queue.StageIntent, Status: queue.StatusQueued, Count: 3}}, m.err
}

func (m *mockReader) ListStuck(_ context.Context, cutoff time.Time, _ int) ([]*queue.Record, error) {
	m.stuckCutoff = cutoff
	return m.records, m.err
}

func (m *mockReader) ReasonCounts(context.Context, int) ([]queue.ReasonCount, error) {
	return []queue.ReasonCount{{Status: queue.StatusStage1Rejected, Reason: "no hiring intent", Count: 4}}, m.err
}

func (m *mockReader) GetByID(_ context.Context, id int64) (*queue.Record, error) {
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, m.err
		}
	}
	return nil, m.err
}

func (m *mockReader) ListRecords(_ context.Context, filter queue.RecordFilter) ([]*queue.Record, error) {
	m.filter = filter
	return m.records, m.err
}

func (m *mockReader) ListLeads(context.Context, string, int) ([]queue.Lead, error) {
	return []queue.Lead{{ID: "lead-1", Category: "Tech", RecordCount: 2}}, m.err
}

func (m *mockReader) GetLead(_ context.Context, id string) (*queue.Lead, error) {
	if id != "lead-1" {
		return nil, m.err
	}
	return &queue.Lead{ID: id, Category: "Tech"}, m.err
}

func (m *mockReader) ListBatches(context.Context, int) ([]queue.IngestBatch, error) {
	return []queue.IngestBatch{{ID: "b1", Received: 5, Inserted: 4, Dropped: 1}}, m.err
}

func (m *mockReader) ListCredentials(context.Context) ([]queue.Credential, error) {
	return m.creds, m.err
}

type credentialList []queue.Credential

func (c credentialList) ListCredentials(context.Context) ([]queue.Credential, error) {
	return c, nil
}

func TestQueueServiceListAndDescribe(t *testing.T) {
	now := time.Now().UTC()
	reader := &mockReader{records: []*queue.Record{{
		ID:        1,
		Status:    queue.StatusAwaitingStage2,
		Stage:     queue.StageQualify,
		CreatedAt: now,
		UpdatedAt: now,
	}}}
	svc := NewQueueService(reader)

	got, err := svc.List(context.Background(), RecordQuery{Statuses: []string{"Awaiting_Stage2"}, BatchID: "b1", Limit: 5})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(got) != 1 || got[0].Status != string(queue.StatusAwaitingStage2) {
		t.Fatalf("unexpected records: %+v", got)
	}
	if len(reader.filter.Statuses) != 1 || reader.filter.BatchID != "b1" || reader.filter.Limit != 5 {
		t.Fatalf("filter not forwarded: %+v", reader.filter)
	}
	if got[0].CreatedAt == "" || got[0].UpdatedAt == "" {
		t.Fatal("expected timestamps to be formatted")
	}

	if _, err := svc.List(context.Background(), RecordQuery{Statuses: []string{"bogus"}}); err == nil {
		t.Fatal("expected unknown status error")
	}

	item, err := svc.Describe(context.Background(), 1)
	if err != nil || item == nil || item.ID != 1 {
		t.Fatalf("Describe = %+v, %v", item, err)
	}
	missing, err := svc.Describe(context.Background(), 99)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing record, got %+v, %v", missing, err)
	}
}

func TestQueueServiceStatsListsEveryStatus(t *testing.T) {
	svc := NewQueueService(&mockReader{stats: map[queue.Status]int{queue.StatusMaterialized: 2}})
	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != len(queue.AllStatuses()) || stats["materialized"] != 2 || stats["queued"] != 0 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestQueueServiceStuckCutoff(t *testing.T) {
	reader := &mockReader{}
	svc := NewQueueService(reader)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	if _, err := svc.Stuck(context.Background(), 6, 0); err != nil {
		t.Fatalf("Stuck: %v", err)
	}
	if !reader.stuckCutoff.Equal(now.Add(-6 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", reader.stuckCutoff)
	}
	if _, err := svc.Stuck(context.Background(), 0, 0); err == nil {
		t.Fatal("expected error for non-positive threshold")
	}
}

func TestQueueServiceCredentialsSource(t *testing.T) {
	started := time.Now()
	reader := &mockReader{creds: []queue.Credential{{AccountID: "store"}}}
	svc := NewQueueService(reader)

	creds, err := svc.Credentials(context.Background())
	if err != nil || len(creds) != 1 || creds[0].AccountID != "store" {
		t.Fatalf("store credentials = %+v, %v", creds, err)
	}

	svc.UseCredentials(credentialList{{AccountID: "shared", CurrentOperationID: "op", OperationStartedAt: &started}})
	creds, err = svc.Credentials(context.Background())
	if err != nil || len(creds) != 1 || creds[0].AccountID != "shared" || !creds[0].Busy {
		t.Fatalf("shared credentials = %+v, %v", creds, err)
	}
}

func TestQueueServicePropagatesErrors(t *testing.T) {
	boom := errors.New("db locked")
	svc := NewQueueService(&mockReader{err: boom})
	if _, err := svc.Stats(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Stats error = %v", err)
	}
	if _, err := svc.Reasons(context.Background(), 10); !errors.Is(err, boom) {
		t.Fatalf("Reasons error = %v", err)
	}
	if _, err := svc.Batches(context.Background(), 10); !errors.Is(err, boom) {
		t.Fatalf("Batches error = %v", err)
	}
}

func TestNilQueueService(t *testing.T) {
	var svc *QueueService
	if NewQueueService(nil) != nil {
		t.Fatal("expected nil service for nil reader")
	}
	if got, err := svc.Leads(context.Background(), "", 0); got != nil || err != nil {
		t.Fatalf("nil service Leads = %v, %v", got, err)
	}
}
