package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leadpipe/internal/callexec"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/services"
)

// PriorityCallThreshold is the record priority at or below which profile
// lookups jump ahead of other waiters on the account lane.
const PriorityCallThreshold = 25

// ProfileLookup fetches an author profile with a given account.
type ProfileLookup interface {
	Lookup(ctx context.Context, accountID, subject string) (queue.Profile, error)
}

// EnrichmentStore finds a recent enrichment for the same subject.
type EnrichmentStore interface {
	RecentEnrichment(ctx context.Context, subjectKey string, excludeID int64, since time.Time) (*queue.Record, error)
}

// Enricher is stage 4: looks up the author profile through the call executor.
type Enricher struct {
	store       EnrichmentStore
	executor    *callexec.Executor
	ledger      callexec.Ledger
	profiles    ProfileLookup
	reuseWindow time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewEnricher constructs the stage 4 handler. A zero reuseWindow disables
// reuse of earlier lookups.
func NewEnricher(store EnrichmentStore, executor *callexec.Executor, ledger callexec.Ledger, profiles ProfileLookup, reuseWindow time.Duration, logger *slog.Logger) *Enricher {
	return &Enricher{
		store:       store,
		executor:    executor,
		ledger:      ledger,
		profiles:    profiles,
		reuseWindow: reuseWindow,
		now:         time.Now,
		logger:      logging.NewComponentLogger(logger, "stage.enrich"),
	}
}

// SetClock overrides the enrichment timestamp source.
func (e *Enricher) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

func (e *Enricher) Stage() queue.Stage { return queue.StageEnrich }

func (e *Enricher) Check(rec *queue.Record) error {
	if rec.Results.Category == nil {
		return precondition("category result missing")
	}
	if rec.SubjectKey == "" {
		return precondition("subject key missing")
	}
	return nil
}

func (e *Enricher) Run(ctx context.Context, rec *queue.Record) (queue.StageResult, error) {
	if reused, ok, err := e.reuse(ctx, rec); err != nil || ok {
		return reused, err
	}

	var profile queue.Profile
	call := callexec.Call{
		Kind:     "profile_lookup",
		Priority: rec.Priority <= PriorityCallThreshold,
	}
	accountID, err := e.executor.ExecuteAny(ctx, call, func(ctx context.Context, accountID string) error {
		p, err := e.profiles.Lookup(ctx, accountID, rec.SubjectKey)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		if accountID == "" {
			return nil, ledgerFailure(err)
		}
		return nil, err
	}
	return queue.EnrichmentResult{
		Profile:    profile,
		AccountID:  accountID,
		EnrichedAt: e.now().UTC(),
	}, nil
}

func (e *Enricher) reuse(ctx context.Context, rec *queue.Record) (queue.StageResult, bool, error) {
	if e.reuseWindow <= 0 || e.store == nil {
		return nil, false, nil
	}
	prior, err := e.store.RecentEnrichment(ctx, rec.SubjectKey, rec.ID, e.now().Add(-e.reuseWindow))
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, string(queue.StageEnrich), "reuse lookup", "", err)
	}
	if prior == nil || prior.Results.Enrichment == nil {
		return nil, false, nil
	}
	found := *prior.Results.Enrichment
	if found.ReusedFrom == 0 {
		found.ReusedFrom = prior.ID
	}
	logging.WithContext(ctx, e.logger).Debug("reusing recent enrichment",
		logging.Int64("reused_from", found.ReusedFrom),
		logging.Time("enriched_at", found.EnrichedAt),
	)
	return found, true, nil
}

// ledgerFailure keeps classified errors as they are; an unclassified ledger
// failure (database or redis outage) is worth retrying.
func ledgerFailure(err error) error {
	if services.Kind(err) != "unknown" {
		return err
	}
	return services.Wrap(services.ErrTransient, string(queue.StageEnrich), "pick account", "", err)
}

func (e *Enricher) HealthCheck(ctx context.Context) Health {
	name := string(queue.StageEnrich)
	creds, err := e.ledger.ListCredentials(ctx)
	if err != nil {
		return Unhealthy(name, fmt.Sprintf("credential ledger: %v", err))
	}
	if len(creds) == 0 {
		return Unhealthy(name, "no enrichment accounts configured")
	}
	for _, c := range creds {
		if c.DailyLimit <= 0 || c.DailyUsageCount < c.DailyLimit {
			return Healthy(name)
		}
	}
	return Unhealthy(name, "all accounts exhausted their daily quota")
}
