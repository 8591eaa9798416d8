package api

import (
	"encoding/json"
	"slices"
	"time"

	"leadpipe/internal/queue"
	"leadpipe/internal/stage"
	"leadpipe/internal/workflow"
)

// FromRecord converts a queue record into its API representation.
func FromRecord(rec *queue.Record) Record {
	if rec == nil {
		return Record{}
	}
	dto := Record{
		ID:            rec.ID,
		NaturalKey:    rec.NaturalKey,
		BatchID:       rec.BatchID,
		SubjectKey:    rec.SubjectKey,
		AuthorName:    rec.Payload.AuthorName,
		PostURL:       rec.Payload.PostURL,
		Status:        string(rec.Status),
		Stage:         string(rec.Stage),
		Priority:      rec.Priority,
		RetryCount:    rec.RetryCount,
		LastRetryAt:   formatTimePtr(rec.LastRetryAt),
		NextAttemptAt: formatTimePtr(rec.NextAttemptAt),
		ClaimedAt:     formatTimePtr(rec.ClaimedAt),
		Reason:        rec.Reason,
		LeadID:        rec.LeadID,
		CreatedAt:     FormatTime(rec.CreatedAt),
		UpdatedAt:     FormatTime(rec.UpdatedAt),
	}
	if len(rec.Results.Completed()) > 0 {
		if raw, err := json.Marshal(rec.Results); err == nil {
			dto.Results = raw
		}
	}
	return dto
}

// FromRecords converts a slice of records.
func FromRecords(records []*queue.Record) []Record {
	if len(records) == 0 {
		return nil
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromLead converts a lead.
func FromLead(lead queue.Lead) Lead {
	return Lead{
		ID:               lead.ID,
		SubjectKey:       lead.SubjectKey,
		FullName:         lead.FullName,
		Headline:         lead.Headline,
		Company:          lead.Company,
		Title:            lead.Title,
		Location:         lead.Location,
		ProfileURL:       lead.ProfileURL,
		Category:         lead.Category,
		Roles:            slices.Clone(lead.Roles),
		OriginRecordID:   lead.OriginRecordID,
		LatestRecordID:   lead.LatestRecordID,
		LatestActivityAt: FormatTime(lead.LatestActivityAt),
		LatestPostURL:    lead.LatestPostURL,
		RecordCount:      lead.RecordCount,
		CreatedAt:        FormatTime(lead.CreatedAt),
		UpdatedAt:        FormatTime(lead.UpdatedAt),
	}
}

// FromCredential converts a credential row, dropping nothing but secrets
// (which the row never carries).
func FromCredential(cred queue.Credential) Credential {
	return Credential{
		AccountID:          cred.AccountID,
		DailyLimit:         cred.DailyLimit,
		DailyUsage:         cred.DailyUsageCount,
		UsageDate:          cred.UsageDate,
		LastCallAt:         formatTimePtr(cred.LastCallAt),
		Busy:               cred.Busy(),
		OperationID:        cred.CurrentOperationID,
		OperationStartedAt: formatTimePtr(cred.OperationStartedAt),
		TotalCalls:         cred.TotalCalls,
	}
}

// FromBatch converts an ingestion batch row.
func FromBatch(b queue.IngestBatch) Batch {
	return Batch{
		ID:          b.ID,
		Source:      b.Source,
		StartedAt:   FormatTime(b.StartedAt),
		CompletedAt: formatTimePtr(b.CompletedAt),
		Received:    b.Received,
		Inserted:    b.Inserted,
		Duplicates:  b.Duplicates,
		Dropped:     b.Dropped,
	}
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		StageHealth: StageHealthSlice(summary.StageHealth),
		LastError:   summary.LastError,
	}
	if summary.LastRecord != nil {
		last := FromRecord(summary.LastRecord)
		wf.LastRecord = &last
	}
	return wf
}

// MergeQueueStats produces a string-keyed representation of queue stats that
// lists every status, including those with no records.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// StageHealthSlice converts a stage health map into a slice in pipeline order.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		ia, ib := queue.Stage(a).Index(), queue.Stage(b).Index()
		if ia != ib {
			return ia - ib
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime reverses FormatTime. Unparseable values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{dateTimeFormat, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
