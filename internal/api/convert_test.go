package api

import (
	"encoding/json"
	"testing"
	"time"

	"leadpipe/internal/queue"
	"leadpipe/internal/stage"
	"leadpipe/internal/workflow"
)

func TestFromRecordIncludesResults(t *testing.T) {
	retried := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	rec := &queue.Record{
		ID:          7,
		NaturalKey:  "urn:post:7",
		SubjectKey:  "jane",
		Status:      queue.StatusAwaitingEnrichment,
		Stage:       queue.StageEnrich,
		RetryCount:  1,
		LastRetryAt: &retried,
		Payload:     queue.Payload{AuthorName: "Jane", PostURL: "https://x.example/7"},
	}
	if err := rec.Results.Add(queue.CategoryResult{Category: "Tech", Roles: []string{"Go engineer"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	dto := FromRecord(rec)
	if dto.Status != "awaiting_enrichment" || dto.Stage != "enrich" || dto.AuthorName != "Jane" {
		t.Fatalf("unexpected dto %+v", dto)
	}
	if dto.LastRetryAt != "2026-06-01T09:30:00.000Z" {
		t.Fatalf("unexpected last retry %q", dto.LastRetryAt)
	}
	var results queue.StageResults
	if err := json.Unmarshal(dto.Results, &results); err != nil {
		t.Fatalf("results not valid json: %v", err)
	}
	if results.Category == nil || results.Category.Category != "Tech" {
		t.Fatalf("unexpected results %+v", results)
	}

	empty := FromRecord(&queue.Record{ID: 8})
	if empty.Results != nil {
		t.Fatal("records without results omit the field")
	}
}

func TestFromStatusSummaryOrdersStages(t *testing.T) {
	summary := workflow.StatusSummary{
		Running:    true,
		QueueStats: map[queue.Status]int{queue.StatusQueued: 4},
		StageHealth: map[string]stage.Health{
			"materialize": stage.Healthy("materialize"),
			"intent":      stage.Healthy("intent"),
			"enrich":      stage.Unhealthy("enrich", "no credentials"),
		},
		LastRecord: &queue.Record{ID: 3, Status: queue.StatusMaterialized},
	}
	wf := FromStatusSummary(summary)
	if !wf.Running || wf.QueueStats["queued"] != 4 {
		t.Fatalf("unexpected workflow status %+v", wf)
	}
	names := []string{wf.StageHealth[0].Name, wf.StageHealth[1].Name, wf.StageHealth[2].Name}
	if names[0] != "intent" || names[1] != "enrich" || names[2] != "materialize" {
		t.Fatalf("stage health not in pipeline order: %v", names)
	}
	if wf.StageHealth[1].Ready || wf.StageHealth[1].Detail != "no credentials" {
		t.Fatalf("unexpected enrich health %+v", wf.StageHealth[1])
	}
	if wf.LastRecord == nil || wf.LastRecord.ID != 3 {
		t.Fatal("expected last record")
	}
}

func TestParseTimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 6, 1, 9, 30, 0, 123000000, time.UTC)
	if got := ParseTime(FormatTime(ts)); !got.Equal(ts) {
		t.Fatalf("round trip = %s", got)
	}
	if !ParseTime("garbage").IsZero() {
		t.Fatal("expected zero time for garbage")
	}
}
