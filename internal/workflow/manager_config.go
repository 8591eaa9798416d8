package workflow

import (
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
)

// ConfigureStages registers the concrete stage handlers the workflow will run.
// Stages without a handler are not polled; records wait there.
func (m *Manager) ConfigureStages(set StageSet) {
	handlers := set.byStage()
	lanes := make(map[queue.Stage]*laneState, len(handlers))
	order := make([]queue.Stage, 0, len(handlers))
	for _, st := range queue.Stages() {
		h := handlers[st]
		if h == nil {
			continue
		}
		lanes[st] = &laneState{
			stage:   st,
			handler: h,
			logger:  m.logger.With(logging.String(logging.FieldStage, string(st))),
		}
		order = append(order, st)
	}

	m.mu.Lock()
	m.lanes = lanes
	m.laneOrder = order
	m.mu.Unlock()
}

func (m *Manager) lane(st queue.Stage) *laneState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lanes[st]
}

func (m *Manager) stageLanes() []*laneState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*laneState, 0, len(m.laneOrder))
	for _, st := range m.laneOrder {
		out = append(out, m.lanes[st])
	}
	return out
}
