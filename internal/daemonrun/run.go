package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"leadpipe/internal/config"
	"leadpipe/internal/daemon"
	"leadpipe/internal/logging"
	"leadpipe/internal/preflight"
	"leadpipe/internal/workflow"
)

// Options configures process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Once drains every claimable record and exits instead of running the
	// daemon.
	Once bool
	// BatchID scopes a Once run to one ingestion batch.
	BatchID       string
	SkipPreflight bool
}

// Run starts the leadpipe daemon and blocks until SIGINT or SIGTERM, or, with
// Options.Once, drains the queue and returns.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("leadpipe-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.CurrentLogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update daemon.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "leadpipe-*.log")

	if !opts.SkipPreflight {
		if err := runPreflight(signalCtx, cfg, logger); err != nil {
			return err
		}
	}

	if opts.Once {
		_, err := runOnce(signalCtx, cfg, opts.BatchID, logger)
		return err
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "leadpipe.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Build(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("runtime wiring failed", logging.Error(err))
		return err
	}
	defer rt.Close()

	d, err := daemon.New(cfg, rt.Store, rt.Manager, rt.Scheduler, rt.Reports, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running instance and queue database access"),
			logging.String(logging.FieldImpact, "no records will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("leadpipe daemon shutting down")
	return nil
}

// runOnce holds the daemon lock, requeues stale claims, and drains every
// stage synchronously.
func runOnce(ctx context.Context, cfg *config.Config, batchID string, logger *slog.Logger) (workflow.DrainSummary, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return workflow.DrainSummary{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return workflow.DrainSummary{}, errors.New("a leadpipe daemon is running; stop it before using --once")
	}
	defer lock.Unlock()

	rt, err := Build(ctx, cfg, logger)
	if err != nil {
		return workflow.DrainSummary{}, err
	}
	defer rt.Close()

	if _, err := rt.Recovery.SweepStale(ctx); err != nil {
		return workflow.DrainSummary{}, err
	}

	started := time.Now()
	summary, err := rt.Manager.Drain(ctx, batchID)
	logger.Info("drain complete",
		logging.String(logging.FieldEventType, "drain_complete"),
		logging.String(logging.FieldBatchID, batchID),
		logging.Int("rounds", summary.Rounds),
		logging.Int("processed", summary.Processed),
		logging.Int("failed", summary.Failed),
		logging.Duration("elapsed", time.Since(started)),
	)
	if err == nil {
		if notifyErr := rt.Notifier.NotifyDrainCompleted(ctx, batchID, summary.Processed, summary.Failed, time.Since(started)); notifyErr != nil {
			logger.Warn("drain notification not delivered",
				logging.String(logging.FieldEventType, "notify_failed"),
				logging.Error(notifyErr),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	}
	return summary, err
}

func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	results := preflight.RunAll(ctx, cfg)
	failed := preflight.Failed(results)
	for _, r := range results {
		if r.Passed {
			logger.Info("preflight check passed",
				logging.String(logging.FieldEventType, "preflight_passed"),
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run leadpipe check for details, or pass --skip-preflight"),
		)
	}
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name)
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(names, ", "))
}

func ensureCurrentLogPointer(current, target string) error {
	if target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
