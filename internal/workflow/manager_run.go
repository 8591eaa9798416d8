package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"leadpipe/internal/batch"
	"leadpipe/internal/events"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
)

// Start begins background processing: one poller per configured stage and
// the configured number of event workers.
func (m *Manager) Start(ctx context.Context) error {
	lanes := m.stageLanes()
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(lanes) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	workers := 0
	if m.bus != nil {
		workers = max(m.cfg.Pipeline.EventWorkers, 1)
	}
	m.wg.Add(len(lanes) + workers)
	m.mu.Unlock()

	for _, lane := range lanes {
		go m.runLane(runCtx, lane)
	}
	for range workers {
		go m.runEventWorker(runCtx)
	}
	m.logger.Info("workflow started",
		logging.Int("stages", len(lanes)),
		logging.Int("event_workers", workers),
		logging.Int("parallelism", m.runner.Parallelism()),
	)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	defer m.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		recs, err := m.store.ClaimBatch(ctx, lane.stage, m.batchSize, "")
		if err != nil {
			m.handleClaimError(ctx, lane.logger, err)
			continue
		}
		if len(recs) == 0 {
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}
		m.runClaimed(ctx, lane, recs)
	}
}

func (m *Manager) runClaimed(ctx context.Context, lane *laneState, recs []*queue.Record) batch.Summary {
	summary := m.runner.Run(ctx, recs, func(ctx context.Context, rec *queue.Record) error {
		_, err := m.process(ctx, lane, rec)
		return err
	})
	for _, rec := range summary.Unstarted {
		if err := m.store.ReleaseClaim(context.WithoutCancel(ctx), rec); err != nil && !errors.Is(err, queue.ErrStatusConflict) {
			lane.logger.Warn("release unstarted claim failed; stale sweep will requeue it",
				logging.Int64(logging.FieldRecordID, rec.ID),
				logging.Error(err),
			)
		}
	}
	return summary
}

func (m *Manager) runEventWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		err := m.bus.Consume(ctx, m.handleEvent)
		if ctx.Err() != nil || err == nil {
			return
		}
		m.logger.Warn("event consumer stopped; restarting", logging.Error(err))
		m.waitOrShutdown(ctx, errorRetryInterval)
	}
}

// handleEvent claims the record for its next stage and runs it. Events for
// records another worker already claimed are ignored.
func (m *Manager) handleEvent(ctx context.Context, ev events.StageCompleted) error {
	if ev.Next == "" {
		return nil
	}
	lane := m.lane(ev.Next)
	if lane == nil {
		return nil
	}
	rec, err := m.store.ClaimRecord(ctx, ev.RecordID, ev.Next)
	if err != nil || rec == nil {
		return err
	}
	_, err = m.process(ctx, lane, rec)
	return err
}

// DrainSummary totals one Drain call.
type DrainSummary struct {
	Rounds    int
	Processed int
	Failed    int
}

// Drain runs every configured stage synchronously, optionally scoped to one
// ingestion batch, until no record is claimable. Retries that are not yet
// due are left for a later call.
func (m *Manager) Drain(ctx context.Context, batchID string) (DrainSummary, error) {
	var total DrainSummary
	lanes := m.stageLanes()
	if len(lanes) == 0 {
		return total, errors.New("workflow stages not configured")
	}
	for {
		claimed := 0
		for _, lane := range lanes {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			recs, err := m.store.ClaimBatch(ctx, lane.stage, m.batchSize, batchID)
			if err != nil {
				return total, err
			}
			if len(recs) == 0 {
				continue
			}
			claimed += len(recs)
			summary := m.runClaimed(ctx, lane, recs)
			total.Processed += summary.Processed
			total.Failed += summary.Failed
		}
		if claimed == 0 {
			return total, ctx.Err()
		}
		total.Rounds++
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	if ctx.Err() != nil {
		return
	}
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to claim records", "queue_claim_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	m.waitOrShutdown(ctx, errorRetryInterval)
}

func (m *Manager) waitOrShutdown(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
