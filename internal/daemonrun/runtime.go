package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"leadpipe/internal/api"
	"leadpipe/internal/batch"
	"leadpipe/internal/callexec"
	"leadpipe/internal/config"
	"leadpipe/internal/events"
	"leadpipe/internal/logging"
	"leadpipe/internal/notifications"
	"leadpipe/internal/queue"
	"leadpipe/internal/recovery"
	"leadpipe/internal/redisledger"
	"leadpipe/internal/services/profiles"
	"leadpipe/internal/stage"
	"leadpipe/internal/workflow"
)

// Runtime holds the wired services of one leadpipe process.
type Runtime struct {
	Config    *config.Config
	Store     *queue.Store
	Manager   *workflow.Manager
	Recovery  *recovery.Controller
	Scheduler *recovery.Scheduler
	Reports   *api.QueueService
	Notifier  notifications.Service

	closers []func() error
}

// Build opens the queue store and wires the ledger, executor, classifier
// backend, stages, event bus, workflow manager, and recovery controller.
// Close releases everything Build opened.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	rt = &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	store, err := queue.Open(cfg)
	if err != nil {
		return rt, fmt.Errorf("open queue store: %w", err)
	}
	rt.Store = store
	rt.closers = append(rt.closers, store.Close)

	specs := credentialSpecs(cfg)
	if err := store.SyncCredentials(ctx, specs); err != nil {
		return rt, fmt.Errorf("sync credentials: %w", err)
	}

	var (
		ledger   callexec.Ledger = store
		releaser recovery.CredentialReleaser
		lister   api.CredentialLister
	)
	if cfg.Ledger.Backend == "redis" {
		redisLedger, err := redisledger.New(ctx, cfg.Ledger)
		if err != nil {
			return rt, fmt.Errorf("open redis ledger: %w", err)
		}
		rt.closers = append(rt.closers, redisLedger.Close)
		if err := redisLedger.SyncCredentials(ctx, specs); err != nil {
			return rt, fmt.Errorf("sync redis credentials: %w", err)
		}
		ledger, releaser, lister = redisLedger, redisLedger, redisLedger
	}

	completer, err := stage.NewCompleter(ctx, cfg.LLM)
	if err != nil {
		return rt, fmt.Errorf("classifier backend: %w", err)
	}

	bus, err := events.New(cfg, logger)
	if err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, bus.Close)

	executor := callexec.New(ledger, callexec.PolicyFromConfig(cfg), logger)
	profileClient := profiles.NewClient(cfg.Enrichment)

	rt.Notifier = notifications.NewService(cfg.Notifications)
	orchestrator := workflow.NewOrchestrator(cfg, store, bus, logger)
	orchestrator.SetNotifier(rt.Notifier)
	rt.Manager = workflow.NewManager(cfg, store, orchestrator, bus, batch.NewRunnerFromConfig(cfg, logger), logger)
	rt.Manager.ConfigureStages(workflow.StageSet{
		Intent:      stage.NewIntentClassifier(completer, logger),
		Qualify:     stage.NewQualifier(completer, cfg.Classification, logger),
		Categorize:  stage.NewCategorizer(completer, cfg.Classification, logger),
		Enrich:      stage.NewEnricher(store, executor, ledger, profileClient, cfg.ReuseWindow(), logger),
		Materialize: stage.NewMaterializer(store, logger),
	})

	policy, err := recovery.LoadPolicy(cfg.Recovery.KeywordsFile)
	if err != nil {
		return rt, err
	}
	rt.Recovery = recovery.NewController(cfg, store, releaser, policy, logger)
	rt.Scheduler = recovery.NewScheduler(rt.Recovery, logger)

	rt.Reports = api.NewQueueService(store)
	if lister != nil {
		rt.Reports.UseCredentials(lister)
	}

	logger.Info("runtime wired",
		logging.String(logging.FieldEventType, "runtime_wired"),
		logging.String("database", store.Path()),
		logging.String("llm_provider", cfg.LLM.Provider),
		logging.String("llm_model", cfg.LLM.Model),
		logging.String("ledger", ledgerKind(cfg)),
		logging.String("events", eventBackend(cfg)),
		logging.Int("accounts", len(specs)),
	)
	return rt, nil
}

// Close releases the resources opened by Build in reverse order.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	if rt.Manager != nil {
		rt.Manager.Stop()
	}
	if rt.Scheduler != nil {
		rt.Scheduler.Stop()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func credentialSpecs(cfg *config.Config) []queue.CredentialSpec {
	specs := make([]queue.CredentialSpec, 0, len(cfg.Enrichment.Accounts))
	for _, acct := range cfg.Enrichment.Accounts {
		specs = append(specs, queue.CredentialSpec{AccountID: acct.ID, DailyLimit: acct.DailyLimit})
	}
	return specs
}

func ledgerKind(cfg *config.Config) string {
	if cfg.Ledger.Backend == "" {
		return "sqlite"
	}
	return cfg.Ledger.Backend
}

func eventBackend(cfg *config.Config) string {
	if cfg.Events.Backend == "" {
		return "memory"
	}
	return cfg.Events.Backend
}
