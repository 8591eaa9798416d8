package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"leadpipe/internal/api"
	"leadpipe/internal/config"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/recovery"
	"leadpipe/internal/workflow"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	workflow  *workflow.Manager
	scheduler *recovery.Scheduler
	reports   *api.QueueService
	server    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	EventBackend string
	LedgerKind   string
}

// New constructs a daemon around already-wired services. scheduler may be
// nil to disable automatic recovery sweeps.
func New(cfg *config.Config, store *queue.Store, wf *workflow.Manager, scheduler *recovery.Scheduler, reports *api.QueueService, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil || reports == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, and report service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		workflow:  wf,
		scheduler: scheduler,
		reports:   reports,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, then launches the workflow manager, the
// recovery scheduler, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another leadpipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		d.workflow.Stop()
		if d.scheduler != nil {
			d.scheduler.Stop()
		}
		_ = d.lock.Unlock()
		return err
	}
	if err := d.workflow.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start workflow: %w", err))
	}
	if d.scheduler != nil {
		if err := d.scheduler.Start(); err != nil {
			return fail(fmt.Errorf("start recovery scheduler: %w", err))
		}
	}
	if err := d.server.start(runCtx); err != nil {
		return fail(err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("leadpipe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.address()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next start may report a running instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("leadpipe daemon stopped")
}

// Close stops the daemon. The store is owned by the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Reports exposes the read-only report service.
func (d *Daemon) Reports() *api.QueueService {
	return d.reports
}

// Address returns the API listener address, or empty when the API is off.
func (d *Daemon) Address() string {
	return d.server.address()
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		EventBackend: d.cfg.Events.Backend,
		LedgerKind:   d.cfg.Ledger.Backend,
	}
}
