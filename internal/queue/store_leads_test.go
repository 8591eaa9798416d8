package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadpipe/internal/queue"
	"leadpipe/internal/testsupport"
)

func toMaterialization(t *testing.T, store *queue.Store, rec *queue.Record) {
	t.Helper()
	rec.Status = queue.StatusProcessing
	rec.Stage = queue.StageMaterialize
	if err := store.UpdateIfStatus(context.Background(), rec, queue.StatusQueued); err != nil {
		t.Fatalf("UpdateIfStatus: %v", err)
	}
}

func TestCommitMaterializationCreatesThenMerges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.InsertRecord(t, store, "p1", testsupport.Post("jane", "hiring"))
	second := testsupport.InsertRecord(t, store, "p2", testsupport.Post("JANE", "hiring again"))
	toMaterialization(t, store, first)
	toMaterialization(t, store, second)

	draft := queue.LeadDraft{
		SubjectKey: "jane",
		Profile:    queue.Profile{FullName: "Jane Doe", Company: "Acme"},
		Category:   "Tech",
		Roles:      []string{"Backend Engineer"},
		ActivityAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		PostURL:    "https://social.example/posts/a",
	}
	created, err := store.CommitMaterialization(ctx, first, queue.StatusProcessing, draft)
	if err != nil {
		t.Fatalf("CommitMaterialization: %v", err)
	}
	if !created.Created || first.Status != queue.StatusMaterialized || first.LeadID != created.Lead.ID {
		t.Fatalf("expected materialized record linked to new lead, got %s lead=%q", first.Status, first.LeadID)
	}

	draft.ActivityAt = draft.ActivityAt.Add(24 * time.Hour)
	draft.PostURL = "https://social.example/posts/b"
	merged, err := store.CommitMaterialization(ctx, second, queue.StatusProcessing, draft)
	if err != nil {
		t.Fatalf("CommitMaterialization second: %v", err)
	}
	if merged.Created || second.Status != queue.StatusDuplicate {
		t.Fatalf("expected duplicate, got %s", second.Status)
	}
	if merged.Lead.ID != created.Lead.ID || second.LeadID != created.Lead.ID {
		t.Fatal("duplicate must link to the existing lead")
	}
	if second.Reason == "" {
		t.Fatal("duplicate must carry a reason")
	}

	lead, err := store.FindLeadBySubject(ctx, "jane")
	if err != nil || lead == nil {
		t.Fatalf("FindLeadBySubject: %v", err)
	}
	if lead.RecordCount != 2 || lead.LatestRecordID != second.ID || lead.OriginRecordID != first.ID {
		t.Fatalf("unexpected merged lead %#v", lead)
	}
	if lead.LatestPostURL != "https://social.example/posts/b" || lead.Category != "Tech" || lead.Company != "Acme" {
		t.Fatalf("unexpected lead fields %#v", lead)
	}

	leads, err := store.ListLeads(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListLeads: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("expected exactly one lead, got %d", len(leads))
	}
}

func TestCommitMaterializationReplayIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := testsupport.InsertRecord(t, store, "p1", testsupport.Post("jane", "hiring"))
	toMaterialization(t, store, rec)
	replay := rec.Clone()

	draft := queue.LeadDraft{SubjectKey: "jane", Category: "Tech"}
	if _, err := store.CommitMaterialization(ctx, rec, queue.StatusProcessing, draft); err != nil {
		t.Fatalf("CommitMaterialization: %v", err)
	}
	_, err := store.CommitMaterialization(ctx, replay, queue.StatusProcessing, draft)
	if !errors.Is(err, queue.ErrStatusConflict) {
		t.Fatalf("expected status conflict on replay, got %v", err)
	}
	lead, err := store.FindLeadBySubject(ctx, "jane")
	if err != nil || lead == nil {
		t.Fatalf("FindLeadBySubject: %v", err)
	}
	if lead.RecordCount != 1 {
		t.Fatalf("replay must not merge, record_count=%d", lead.RecordCount)
	}
}

func TestRecentEnrichmentRespectsWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	enriched := testsupport.InsertRecord(t, store, "p1", testsupport.Post("jane", "hiring"))
	enriched.Results.Enrichment = &queue.EnrichmentResult{
		Profile:    queue.Profile{FullName: "Jane Doe"},
		AccountID:  "acct-1",
		EnrichedAt: now.Add(-2 * time.Hour),
	}
	enriched.Status = queue.StatusAwaitingMaterialization
	enriched.Stage = queue.StageMaterialize
	if err := store.UpdateIfStatus(ctx, enriched, queue.StatusQueued); err != nil {
		t.Fatalf("UpdateIfStatus: %v", err)
	}
	current := testsupport.InsertRecord(t, store, "p2", testsupport.Post("jane", "hiring"))

	found, err := store.RecentEnrichment(ctx, "jane", current.ID, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("RecentEnrichment: %v", err)
	}
	if found == nil || found.ID != enriched.ID {
		t.Fatalf("expected reuse candidate %d, got %#v", enriched.ID, found)
	}

	found, err = store.RecentEnrichment(ctx, "jane", current.ID, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RecentEnrichment: %v", err)
	}
	if found != nil {
		t.Fatal("enrichment older than the window must not be reused")
	}

	found, err = store.RecentEnrichment(ctx, "jane", enriched.ID, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("RecentEnrichment: %v", err)
	}
	if found != nil {
		t.Fatal("the excluded record must not match itself")
	}
}
