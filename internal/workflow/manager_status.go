package workflow

import (
	"context"

	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	LastError   string
	LastRecord  *queue.Record
	QueueStats  map[queue.Status]int
	StageHealth map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastRecord := m.lastRecord.Clone()
	m.mu.RUnlock()

	stats, err := m.store.StatusCounts(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	lanes := m.stageLanes()
	health := make(map[string]stage.Health, len(lanes))
	for _, lane := range lanes {
		health[string(lane.stage)] = lane.handler.HealthCheck(ctx)
	}

	summary := StatusSummary{Running: running, QueueStats: stats, StageHealth: health, LastRecord: lastRecord}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastRecord(rec *queue.Record) {
	m.mu.Lock()
	m.lastRecord = rec.Clone()
	m.mu.Unlock()
}
