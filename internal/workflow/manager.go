package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"leadpipe/internal/batch"
	"leadpipe/internal/config"
	"leadpipe/internal/events"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
)

const errorRetryInterval = 5 * time.Second

// Manager coordinates stage pollers and event workers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	orchestrator *Orchestrator
	bus          events.Bus
	runner       *batch.Runner
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	lanes     map[queue.Stage]*laneState
	laneOrder []queue.Stage

	mu         sync.RWMutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lastErr    error
	lastRecord *queue.Record
}

// NewManager constructs a workflow manager. bus may be nil, in which case
// only the stage pollers advance records.
func NewManager(cfg *config.Config, store *queue.Store, orchestrator *Orchestrator, bus events.Bus, runner *batch.Runner, logger *slog.Logger) *Manager {
	logger = logging.NewComponentLogger(logger, "workflow-manager")
	if runner == nil {
		runner = batch.NewRunnerFromConfig(cfg, logger)
	}
	poll := cfg.PollInterval()
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		bus:          bus,
		runner:       runner,
		logger:       logger,
		pollInterval: poll,
		batchSize:    max(cfg.Pipeline.BatchSize, 1),
		lanes:        make(map[queue.Stage]*laneState),
	}
}
