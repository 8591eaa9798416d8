package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/services"
	"leadpipe/internal/stage"
)

// process runs lane's handler on a claimed record and applies the outcome.
func (m *Manager) process(ctx context.Context, lane *laneState, rec *queue.Record) (Transition, error) {
	ctx = services.WithRequestID(services.WithBatchID(services.WithRecordID(ctx, rec.ID), rec.BatchID), uuid.NewString())
	ctx = services.WithStage(ctx, string(lane.stage))
	logger := logging.WithContext(ctx, lane.logger)

	started := time.Now()
	logger.Debug("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("retry_count", rec.RetryCount),
		logging.Int("priority", rec.Priority),
	)
	out := stage.Run(ctx, lane.handler, rec)

	// The outcome is already computed; persist it even if shutdown began.
	tr, err := m.orchestrator.Apply(context.WithoutCancel(ctx), rec, out)
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to apply stage outcome", "stage_apply_failed",
			logging.String("outcome", string(out.Kind)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the record stays claimed until the stale sweep requeues it"),
		)
		return tr, err
	}
	if !tr.Applied {
		logger.Debug("stage outcome ignored; record already advanced")
		return tr, nil
	}
	m.setLastRecord(rec)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("outcome", string(out.Kind)),
		logging.String("next_status", string(tr.To)),
		logging.Duration("stage_duration", time.Since(started)),
	)
	return tr, nil
}
