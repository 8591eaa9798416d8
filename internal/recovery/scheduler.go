package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"leadpipe/internal/logging"
)

const sweepTimeout = 10 * time.Minute

// Scheduler runs the automatic sweeps on cron schedules.
type Scheduler struct {
	controller *Controller
	cron       *cron.Cron
	logger     *slog.Logger

	mu         sync.Mutex
	started    bool
	registered bool
}

// NewScheduler creates a scheduler for controller. Schedules use the
// standard five-field cron syntax or descriptors such as "@every 10m".
func NewScheduler(controller *Controller, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		controller: controller,
		cron:       cron.New(),
		logger:     logging.NewComponentLogger(logger, "recovery-scheduler"),
	}
}

// Start registers the stale, rejection, and credential sweeps and starts the
// cron loop. An empty schedule disables that sweep.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if !s.registered {
		if err := s.register(); err != nil {
			s.cron = cron.New()
			return err
		}
		s.registered = true
	}
	s.cron.Start()
	s.started = true
	return nil
}

func (s *Scheduler) register() error {
	cfg := s.controller.cfg
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"stale", cfg.StaleSchedule, func(ctx context.Context) error {
			_, err := s.controller.SweepStale(ctx)
			return err
		}},
		{"rejections", cfg.RejectionSchedule, func(ctx context.Context) error {
			_, err := s.controller.SweepRejections(ctx)
			return err
		}},
		{"credentials", cfg.CredentialSchedule, func(ctx context.Context) error {
			_, err := s.controller.ReleaseStuckCredentials(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		schedule := strings.TrimSpace(job.schedule)
		if schedule == "" {
			continue
		}
		name, run := job.name, job.run
		if _, err := s.cron.AddFunc(schedule, func() { s.runSweep(name, run) }); err != nil {
			return fmt.Errorf("schedule %s sweep %q: %w", name, schedule, err)
		}
		s.logger.Info("recovery sweep scheduled",
			logging.String("sweep", name),
			logging.String("schedule", schedule),
		)
	}
	return nil
}

// Stop halts the cron loop and waits for running sweeps.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info("recovery scheduler stopped")
}

func (s *Scheduler) runSweep(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	started := time.Now()
	if err := run(ctx); err != nil {
		logging.ErrorWithContext(s.logger, "recovery sweep failed", "recovery_sweep_failed",
			logging.String("sweep", name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database availability"),
		)
		return
	}
	s.logger.Debug("recovery sweep finished",
		logging.String("sweep", name),
		logging.Duration("duration", time.Since(started)),
	)
}
