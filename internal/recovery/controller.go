package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadpipe/internal/config"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
)

// CredentialReleaser force-releases credential claims. queue.Store and
// redisledger.Ledger implement it.
type CredentialReleaser interface {
	ForceReleaseCredentials(ctx context.Context, cutoff time.Time) ([]string, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Examined int
	Changed  []int64
	Skipped  int
}

// Controller owns the recovery sweeps.
type Controller struct {
	cfg         config.Recovery
	store       *queue.Store
	credentials CredentialReleaser
	policy      Requalifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewController builds a controller over store. When credentials is nil the
// store's own credential table is swept. A nil policy uses DefaultPolicy.
func NewController(cfg *config.Config, store *queue.Store, credentials CredentialReleaser, policy Requalifier, logger *slog.Logger) *Controller {
	if credentials == nil {
		credentials = store
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		cfg:         cfg.Recovery,
		store:       store,
		credentials: credentials,
		policy:      policy,
		logger:      logging.NewComponentLogger(logger, "recovery"),
		now:         time.Now,
	}
}

// SetClock overrides the time source.
func (c *Controller) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// SweepStale requeues claimed records idle longer than stale_after_minutes
// with the configured priority penalty.
func (c *Controller) SweepStale(ctx context.Context) (SweepResult, error) {
	cutoff := c.now().Add(-time.Duration(c.cfg.StaleAfterMinutes) * time.Minute)
	ids, err := c.store.RequeueStale(ctx, cutoff, c.cfg.StalePriorityPenalty)
	if err != nil {
		return SweepResult{}, err
	}
	if len(ids) > 0 {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "requeued stale records", "stale_records_requeued",
			logging.Int("count", len(ids)),
			logging.Time("cutoff", cutoff),
			logging.Int("priority_penalty", c.cfg.StalePriorityPenalty),
			logging.String(logging.FieldImpact, "records resume from the waiting state of their stage"),
		)
	}
	return SweepResult{Examined: len(ids), Changed: ids}, nil
}

// SweepRejections gives recent stage1 and stage2 rejections another pass when
// the policy accepts them and the subject has not progressed elsewhere.
func (c *Controller) SweepRejections(ctx context.Context) (SweepResult, error) {
	since := c.now().Add(-time.Duration(c.cfg.RejectionLookbackHours) * time.Hour)
	rejected, err := c.store.ListRejected(ctx, since, c.cfg.RejectionSweepLimit)
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{Examined: len(rejected)}
	for _, rec := range rejected {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !c.policy.ShouldRequalify(rec) {
			result.Skipped++
			continue
		}
		advanced, err := c.store.SubjectAdvanced(ctx, rec.SubjectKey, rec.ID)
		if err != nil {
			return result, err
		}
		if advanced {
			result.Skipped++
			continue
		}
		reason := fmt.Sprintf("requalified after %s", rec.Status)
		if err := c.store.RequalifyRecord(ctx, rec.ID, rec.Status, reason); err != nil {
			if errors.Is(err, queue.ErrStatusConflict) {
				result.Skipped++
				continue
			}
			return result, err
		}
		result.Changed = append(result.Changed, rec.ID)
		c.logger.Info("record requalified",
			logging.Int64(logging.FieldRecordID, rec.ID),
			logging.String("previous_status", string(rec.Status)),
			logging.String("previous_reason", rec.Reason),
		)
	}
	if len(result.Changed) > 0 {
		c.logger.Info("rejection sweep complete",
			logging.Int("examined", result.Examined),
			logging.Int("requalified", len(result.Changed)),
			logging.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

// ForceReprocess resets error, failed_permanently, and retry_scheduled
// records to queued. batchID limits the reset when non-empty.
func (c *Controller) ForceReprocess(ctx context.Context, batchID string) (int64, error) {
	n, err := c.store.ForceReprocess(ctx, batchID)
	if err != nil {
		return 0, err
	}
	logging.WarnWithContext(logging.WithContext(ctx, c.logger), "forced reprocess", "force_reprocess",
		logging.Int64("count", n),
		logging.String(logging.FieldBatchID, batchID),
		logging.String(logging.FieldImpact, "records restart at intent with cleared results"),
	)
	return n, nil
}

// ReleaseStuckCredentials frees credentials whose operation started more
// than credential_timeout_minutes ago.
func (c *Controller) ReleaseStuckCredentials(ctx context.Context) ([]string, error) {
	cutoff := c.now().Add(-time.Duration(c.cfg.CredentialTimeoutMinutes) * time.Minute)
	released, err := c.credentials.ForceReleaseCredentials(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, id := range released {
		logging.WarnWithContext(c.logger, "released stuck credential", "credential_force_released",
			logging.String(logging.FieldAccountID, id),
			logging.Time("cutoff", cutoff),
			logging.String(logging.FieldErrorHint, "an operation held the credential past its timeout"),
		)
	}
	return released, nil
}
