package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"leadpipe/internal/api"
	"leadpipe/internal/batch"
	"leadpipe/internal/config"
	"leadpipe/internal/daemon"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/recovery"
	"leadpipe/internal/stage"
	"leadpipe/internal/testsupport"
	"leadpipe/internal/workflow"
)

type noopStage struct{}

func (noopStage) Stage() queue.Stage        { return queue.StageIntent }
func (noopStage) Check(*queue.Record) error { return nil }
func (noopStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("intent")
}
func (noopStage) Run(context.Context, *queue.Record) (queue.StageResult, error) {
	return queue.IntentResult{Verdict: queue.VerdictNegative, Reason: "noop"}, nil
}

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *queue.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	orch := workflow.NewOrchestrator(cfg, store, nil, logger)
	mgr := workflow.NewManager(cfg, store, orch, nil, batch.NewRunnerFromConfig(cfg, logger), logger)
	mgr.ConfigureStages(workflow.StageSet{Intent: noopStage{}})
	sched := recovery.NewScheduler(recovery.NewController(cfg, store, nil, nil, logger), logger)
	d, err := daemon.New(cfg, store, mgr, sched, api.NewQueueService(store), logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, store
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected running daemon, got %+v", status)
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected error starting twice")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon stopped")
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newDaemon(t, cfg)
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second, _ := newDaemon(t, cfg)
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected lock contention error")
	}
}

func TestDaemonServesAuthenticatedAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "sekret"
	d, store := newDaemon(t, cfg)
	testsupport.InsertRecord(t, store, "p1", testsupport.Post("jane", "hiring"))

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := d.Address()
	if addr == "" {
		t.Fatal("expected API listener")
	}

	resp, err := http.Get("http://" + addr + "/api/stats")
	if err != nil {
		t.Fatalf("GET without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	client, err := api.NewClient(addr, "sekret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || len(status.Workflow.StageHealth) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	records, err := client.List(context.Background(), api.RecordQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+addr+"/api/stuck?hours=-3", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stuck: %v", err)
	}
	defer resp.Body.Close()
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest || body.Error == "" {
		t.Fatalf("expected 400 with error body, got %d %+v", resp.StatusCode, body)
	}
}
