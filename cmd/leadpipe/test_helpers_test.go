package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"leadpipe/internal/api"
	"leadpipe/internal/batch"
	"leadpipe/internal/config"
	"leadpipe/internal/daemon"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
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

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

// setupCLITestEnv writes a config whose api_bind has no listener, so report
// commands fall back to the queue database.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:1"
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "leadpipe.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func (e *cliTestEnv) startDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()

	cfg := *e.cfg
	cfg.Paths.APIBind = "127.0.0.1:0"
	store := testsupport.MustOpenStore(t, &cfg)
	logger := logging.NewNop()
	orch := workflow.NewOrchestrator(&cfg, store, nil, logger)
	mgr := workflow.NewManager(&cfg, store, orch, nil, batch.NewRunnerFromConfig(&cfg, logger), logger)
	mgr.ConfigureStages(workflow.StageSet{Intent: noopStage{}})
	d, err := daemon.New(&cfg, store, mgr, nil, api.NewQueueService(store), logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
