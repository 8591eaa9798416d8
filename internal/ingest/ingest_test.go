package ingest_test

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"leadpipe/internal/ingest"
	"leadpipe/internal/queue"
	"leadpipe/internal/testsupport"
)

const batchJSONL = `{"urn":"urn:post:1","text":"We're hiring a Go engineer","author_profile_id":"jane","author_name":"Jane Doe","post_url":"https://social.example/posts/1","posted_at":"2026-05-01T09:00:00Z"}

{"urn":"urn:post:2","text":"missing author","post_url":"https://social.example/posts/2"}
not json at all
{"urn":"urn:post:3","text":"Join us","author_profile_id":"john","post_url":"ftp://social.example/posts/3"}
{"urn":"urn:post:1","text":"We're hiring a Go engineer","author_profile_id":"jane","post_url":"https://social.example/posts/1"}
{"urn":"urn:post:4","text":"Open roles in sales","author_profile_id":"ann","post_url":"https://social.example/posts/4"}
`

func TestIngestValidatesAndDeduplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ing := ingest.New(store, nil)
	ing.SetClock(func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) })
	res, err := ing.IngestSource(ctx, "batch-a", "export.jsonl", ingest.ReadJSONL(strings.NewReader(batchJSONL)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Received != 6 || res.Inserted != 2 || res.Duplicates != 1 || res.Dropped != 3 {
		t.Fatalf("unexpected counters %+v", res)
	}
	if len(res.Drops) != 3 || res.Drops[0].URN != "urn:post:2" {
		t.Fatalf("unexpected drops %+v", res.Drops)
	}

	rec, err := store.GetByNaturalKey(ctx, "urn:post:1")
	if err != nil || rec == nil {
		t.Fatalf("GetByNaturalKey: %v", err)
	}
	if rec.Status != queue.StatusQueued || rec.BatchID != "batch-a" || rec.SubjectKey != "jane" {
		t.Fatalf("unexpected record %+v", rec)
	}
	other, err := store.GetByNaturalKey(ctx, "urn:post:4")
	if err != nil || other == nil {
		t.Fatalf("GetByNaturalKey: %v", err)
	}
	if rec.Priority >= other.Priority {
		t.Fatalf("recent complete post should outrank undated one: %d vs %d", rec.Priority, other.Priority)
	}

	again, err := ing.Ingest(ctx, "batch-a", ingest.ReadJSONL(strings.NewReader(batchJSONL)))
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if again.Inserted != 0 || again.Duplicates != 3 {
		t.Fatalf("re-ingesting must not create records: %+v", again)
	}

	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 1 || batches[0].Inserted != 2 || batches[0].Dropped != 6 || batches[0].CompletedAt == nil {
		t.Fatalf("unexpected batch rows %+v", batches)
	}
}

func TestIngestAbortsOnProducerFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	boom := errors.New("connection reset")

	var posts iter.Seq2[ingest.RawPost, error] = func(yield func(ingest.RawPost, error) bool) {
		if !yield(ingest.RawPost{URN: "u1", Text: "hiring", AuthorProfileID: "jane", PostURL: "https://x.example/1"}, nil) {
			return
		}
		yield(ingest.RawPost{}, boom)
	}
	res, err := ingest.New(store, nil).Ingest(context.Background(), "batch-b", posts)
	if !errors.Is(err, boom) {
		t.Fatalf("expected producer error, got %v", err)
	}
	if res.Inserted != 0 {
		t.Fatal("nothing is written before the sequence is fully consumed")
	}
	if rec, _ := store.GetByNaturalKey(context.Background(), "u1"); rec != nil {
		t.Fatal("record must not be stored after an aborted run")
	}
}

func TestIngestGeneratesBatchID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	var posts iter.Seq2[ingest.RawPost, error] = func(yield func(ingest.RawPost, error) bool) {
		yield(ingest.RawPost{URN: "u1", Text: "hiring", AuthorProfileID: "jane", PostURL: "https://x.example/1"}, nil)
	}
	res, err := ingest.New(store, nil).Ingest(context.Background(), "  ", posts)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.BatchID == "" || res.Inserted != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPriority(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}
	complete := queue.Payload{AuthorName: "Jane", AuthorHeadline: "CTO", AuthorProfileURL: "https://x.example/jane"}

	fresh := complete
	fresh.PostedAt = at(time.Hour)
	week := complete
	week.PostedAt = at(5 * 24 * time.Hour)
	old := complete
	old.PostedAt = at(60 * 24 * time.Hour)
	bare := queue.Payload{PostedAt: at(time.Hour)}

	if got := ingest.Priority(fresh, now); got != 60 {
		t.Fatalf("fresh priority = %d", got)
	}
	if got := ingest.Priority(week, now); got != 90 {
		t.Fatalf("week-old priority = %d", got)
	}
	if got := ingest.Priority(old, now); got != 120 {
		t.Fatalf("old priority = %d", got)
	}
	if got := ingest.Priority(bare, now); got != 80 {
		t.Fatalf("bare priority = %d", got)
	}
}
