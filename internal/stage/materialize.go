package stage

import (
	"context"
	"log/slog"

	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/services"
)

// LeadFinder looks up the lead for a subject key.
type LeadFinder interface {
	FindLeadBySubject(ctx context.Context, subjectKey string) (*queue.Lead, error)
}

// Materializer is stage 5. Run previews whether the subject already has a
// lead; the workflow commits the draft atomically.
type Materializer struct {
	leads  LeadFinder
	logger *slog.Logger
}

func NewMaterializer(leads LeadFinder, logger *slog.Logger) *Materializer {
	return &Materializer{leads: leads, logger: logging.NewComponentLogger(logger, "stage.materialize")}
}

func (m *Materializer) Stage() queue.Stage { return queue.StageMaterialize }

func (m *Materializer) Check(rec *queue.Record) error {
	if rec.Results.Enrichment == nil {
		return precondition("enrichment result missing")
	}
	if rec.Results.Category == nil {
		return precondition("category result missing")
	}
	return nil
}

func (m *Materializer) Run(ctx context.Context, rec *queue.Record) (queue.StageResult, error) {
	lead, err := m.leads.FindLeadBySubject(ctx, rec.SubjectKey)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, string(queue.StageMaterialize), "find lead", "", err)
	}
	if lead == nil {
		return queue.MaterializationResult{}, nil
	}
	return queue.MaterializationResult{
		LeadID:    lead.ID,
		Duplicate: lead.OriginRecordID != rec.ID,
	}, nil
}

// Draft builds the lead fields rec contributes. Payload author fields fill
// gaps in the enriched profile.
func (m *Materializer) Draft(rec *queue.Record) queue.LeadDraft {
	profile := rec.Results.Enrichment.Profile
	p := rec.Payload
	if profile.FullName == "" {
		profile.FullName = p.AuthorName
	}
	if profile.Headline == "" {
		profile.Headline = p.AuthorHeadline
	}
	if profile.ProfileURL == "" {
		profile.ProfileURL = p.AuthorProfileURL
	}
	return queue.LeadDraft{
		SubjectKey: rec.SubjectKey,
		Profile:    profile,
		Category:   rec.Results.Category.Category,
		Roles:      rec.Results.Category.Roles,
		ActivityAt: rec.ActivityAt(),
		PostURL:    p.PostURL,
	}
}

func (m *Materializer) HealthCheck(context.Context) Health {
	return Healthy(string(queue.StageMaterialize))
}
