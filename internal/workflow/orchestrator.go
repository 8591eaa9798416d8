package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadpipe/internal/config"
	"leadpipe/internal/events"
	"leadpipe/internal/logging"
	"leadpipe/internal/notifications"
	"leadpipe/internal/queue"
	"leadpipe/internal/services"
	"leadpipe/internal/stage"
)

// Transition describes what Apply did. Applied is false when the record had
// already moved on (a replayed or concurrent delivery); nothing was written.
type Transition struct {
	RecordID int64
	Stage    queue.Stage
	Event    Event
	From     queue.Status
	To       queue.Status
	Applied  bool
	LeadID   string
}

// Orchestrator turns stage outcomes into guarded status transitions and
// announces each one on the event bus.
type Orchestrator struct {
	cfg      *config.Config
	store    *queue.Store
	bus      events.Bus
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator builds an orchestrator. bus may be nil.
func NewOrchestrator(cfg *config.Config, store *queue.Store, bus events.Bus, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logging.NewComponentLogger(logger, "orchestrator"),
		now:    time.Now,
	}
}

// SetNotifier routes new leads and terminal failures to n.
func (o *Orchestrator) SetNotifier(n notifications.Service) {
	o.notifier = n
}

// SetClock overrides the retry scheduling clock.
func (o *Orchestrator) SetClock(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// Apply records out for the claimed record rec. rec must be in processing;
// on success it reflects the stored row.
func (o *Orchestrator) Apply(ctx context.Context, rec *queue.Record, out stage.Outcome) (Transition, error) {
	tr := Transition{RecordID: rec.ID, Stage: rec.Stage, From: rec.Status}
	if rec.Status != queue.StatusProcessing {
		return tr, fmt.Errorf("apply %s outcome to record %d: record is %s, not claimed", out.Stage, rec.ID, rec.Status)
	}
	if out.Stage != rec.Stage {
		return tr, fmt.Errorf("apply %s outcome to record %d waiting on %s: %w", out.Stage, rec.ID, rec.Stage, ErrIllegalTransition)
	}
	if out.Kind == stage.OutcomeCancelled {
		return o.release(ctx, rec, tr)
	}

	ev, err := eventFor(out)
	if err != nil {
		return tr, err
	}
	if ev == EventRetry && rec.RetryCount >= o.cfg.MaxRetriesFor(string(rec.Stage)) {
		ev = EventExhausted
	}
	tr.Event = ev
	to, err := Next(rec.Status, rec.Stage, ev)
	if err != nil {
		return tr, err
	}

	if out.Kind == stage.OutcomeSucceeded && rec.Stage == queue.StageMaterialize {
		return o.materialize(ctx, rec, out, tr)
	}

	updated := rec.Clone()
	updated.Status = to
	updated.ClaimedAt = nil
	updated.NextAttemptAt = nil
	switch ev {
	case EventRetry:
		now := o.now().UTC()
		updated.RetryCount++
		updated.LastRetryAt = &now
		next := now.Add(o.retryDelay(rec.RetryCount, out.Err))
		updated.NextAttemptAt = &next
		updated.Reason = fmt.Sprintf("retry %d/%d after %s", updated.RetryCount, o.cfg.MaxRetriesFor(string(rec.Stage)), services.Kind(out.Err))
	case EventExhausted:
		updated.Reason = fmt.Sprintf("%s retries exhausted after %d attempts: %s", rec.Stage, rec.RetryCount+1, errorDetail(out.Err))
	case EventPermanent:
		updated.Reason = fmt.Sprintf("%s failed: %s", rec.Stage, errorDetail(out.Err))
	case EventPrecondition:
		updated.Reason = fmt.Sprintf("%s skipped: %v", rec.Stage, out.Err)
	default:
		if err := updated.Results.Add(out.Result); err != nil && !errors.Is(err, queue.ErrResultRecorded) {
			return tr, err
		}
		updated.Reason = rejectionReason(to, out.Result)
		if next, ok := queue.StageForWaiting(to); ok {
			updated.Stage = next
			updated.RetryCount = 0
		}
	}

	if err := o.store.UpdateIfStatus(ctx, updated, queue.StatusProcessing); err != nil {
		if errors.Is(err, queue.ErrStatusConflict) {
			return tr, nil
		}
		return tr, err
	}
	*rec = *updated
	tr.To = to
	tr.Applied = true
	o.logTransition(ctx, rec, tr)
	o.publish(ctx, rec, tr)
	o.notifyFailure(ctx, rec, tr)
	return tr, nil
}

func (o *Orchestrator) materialize(ctx context.Context, rec *queue.Record, out stage.Outcome, tr Transition) (Transition, error) {
	if out.Draft == nil {
		return tr, fmt.Errorf("materialize record %d: handler produced no lead draft", rec.ID)
	}
	m, err := o.store.CommitMaterialization(ctx, rec, queue.StatusProcessing, *out.Draft)
	if err != nil {
		if errors.Is(err, queue.ErrStatusConflict) {
			return tr, nil
		}
		return tr, err
	}
	tr.Event = EventLeadCreated
	if !m.Created {
		tr.Event = EventLeadExists
	}
	tr.To = rec.Status
	tr.Applied = true
	tr.LeadID = m.Lead.ID
	o.logTransition(ctx, rec, tr)
	o.publish(ctx, rec, tr)
	if m.Created && o.notifier != nil {
		o.reportNotifyError(ctx, rec, o.notifier.NotifyLeadCreated(ctx, m.Lead.FullName, m.Lead.Category, m.Lead.ProfileURL))
	}
	return tr, nil
}

// release hands a record interrupted by shutdown back to its waiting status
// without spending retry budget.
func (o *Orchestrator) release(ctx context.Context, rec *queue.Record, tr Transition) (Transition, error) {
	updated := rec.Clone()
	if err := o.store.ReleaseClaim(context.WithoutCancel(ctx), updated); err != nil {
		if errors.Is(err, queue.ErrStatusConflict) {
			return tr, nil
		}
		return tr, err
	}
	*rec = *updated
	tr.To = rec.Status
	tr.Applied = true
	return tr, nil
}

func eventFor(out stage.Outcome) (Event, error) {
	switch out.Kind {
	case stage.OutcomeSkipped:
		return EventPrecondition, nil
	case stage.OutcomePermanent:
		return EventPermanent, nil
	case stage.OutcomeTransient:
		return EventRetry, nil
	case stage.OutcomeSucceeded:
	default:
		return "", fmt.Errorf("unknown outcome kind %q", out.Kind)
	}
	switch r := out.Result.(type) {
	case queue.IntentResult:
		return verdictEvent(r.Verdict), nil
	case queue.QualificationResult:
		return verdictEvent(r.Verdict), nil
	case queue.CategoryResult:
		return EventCompleted, nil
	case queue.EnrichmentResult:
		return EventEnriched, nil
	case queue.MaterializationResult:
		if r.Duplicate {
			return EventLeadExists, nil
		}
		return EventLeadCreated, nil
	default:
		return "", fmt.Errorf("unexpected stage result %T", out.Result)
	}
}

func verdictEvent(v queue.Verdict) Event {
	if v == queue.VerdictPositive {
		return EventPositive
	}
	return EventNegative
}

func rejectionReason(to queue.Status, result queue.StageResult) string {
	var detail string
	switch r := result.(type) {
	case queue.IntentResult:
		detail = r.Reason
	case queue.QualificationResult:
		detail = r.Reason
	}
	switch to {
	case queue.StatusStage1Rejected:
		return strings.TrimSpace("no hiring intent: " + detail)
	case queue.StatusStage2Rejected:
		return strings.TrimSpace("not qualified: " + detail)
	}
	return ""
}

func errorDetail(err error) string {
	if err == nil {
		return "unknown error"
	}
	return services.Kind(err) + ": " + err.Error()
}

// retryDelay is base·2^attempt capped at max, and never shorter than a
// provider's Retry-After hint.
func (o *Orchestrator) retryDelay(attempt int, err error) time.Duration {
	base, ceiling := o.cfg.RetryBackoff()
	delay := base
	for i := 0; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	if hint, ok := services.RetryAfter(err); ok && hint > delay {
		delay = hint
	}
	return delay
}

func (o *Orchestrator) logTransition(ctx context.Context, rec *queue.Record, tr Transition) {
	logger := logging.WithContext(ctx, o.logger).With(
		logging.Int64(logging.FieldRecordID, rec.ID),
		logging.String(logging.FieldStage, string(tr.Stage)),
		logging.String("event", string(tr.Event)),
		logging.String("status", string(tr.To)),
	)
	switch tr.To {
	case queue.StatusError, queue.StatusFailedPermanently, queue.StatusEnrichmentFailed:
		logging.WarnWithContext(logger, "record failed", "record_failed",
			logging.String("reason", rec.Reason),
			logging.Int("retry_count", rec.RetryCount),
			logging.String(logging.FieldErrorHint, "inspect with: leadpipe records show"),
			logging.String(logging.FieldImpact, "record will not produce a lead unless reprocessed"),
		)
	case queue.StatusRetryScheduled:
		logger.Info("record retry scheduled",
			logging.Int("retry_count", rec.RetryCount),
			logging.Time("next_attempt_at", *rec.NextAttemptAt),
		)
	default:
		logger.Debug("record transitioned")
	}
}

func (o *Orchestrator) notifyFailure(ctx context.Context, rec *queue.Record, tr Transition) {
	if o.notifier == nil {
		return
	}
	switch tr.To {
	case queue.StatusError, queue.StatusFailedPermanently, queue.StatusEnrichmentFailed:
		o.reportNotifyError(ctx, rec, o.notifier.NotifyRecordFailed(ctx, rec.ID, string(tr.Stage), rec.Reason))
	}
}

func (o *Orchestrator) reportNotifyError(ctx context.Context, rec *queue.Record, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(logging.WithContext(ctx, o.logger), "notification not delivered", "notify_failed",
		logging.Int64(logging.FieldRecordID, rec.ID),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		logging.String(logging.FieldImpact, "operator alert skipped; the record itself is unaffected"),
	)
}

// publish announces a durable transition. It never blocks; a lost event only
// delays the record until a stage poller claims it.
func (o *Orchestrator) publish(ctx context.Context, rec *queue.Record, tr Transition) {
	if o.bus == nil {
		return
	}
	ev := events.StageCompleted{
		ID:         uuid.NewString(),
		RecordID:   rec.ID,
		BatchID:    rec.BatchID,
		Stage:      tr.Stage,
		Status:     tr.To,
		OccurredAt: o.now().UTC(),
	}
	if next, ok := queue.StageForWaiting(tr.To); ok {
		ev.Next = next
	}
	if err := o.bus.Publish(ctx, ev); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "stage event not published", "event_publish_failed",
			logging.Int64(logging.FieldRecordID, rec.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise events.buffer_size or add event workers"),
			logging.String(logging.FieldImpact, "next stage starts on the next poll"),
		)
	}
}
