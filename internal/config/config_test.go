package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"leadpipe/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".local", "share", "leadpipe"); cfg.Paths.DataDir != want {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, want)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Pipeline.Parallelism != 5 {
		t.Fatalf("expected default parallelism 5, got %d", cfg.Pipeline.Parallelism)
	}
	if cfg.DatabasePath() != filepath.Join(cfg.Paths.DataDir, "leadpipe.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
}

func TestLoadParsesFileAndAppliesStageRetryOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"

[classification]
languages = ["English", "spa", "en"]
countries = [" gb "]

[pipeline]
max_retries = 2

[pipeline.stage_max_retries]
Enrich = 6

[[enrichment.accounts]]
id = "acct-a"
token = "secret"

[[enrichment.accounts]]
id = "acct-b"
daily_limit = 40
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if got := cfg.MaxRetriesFor("enrich"); got != 6 {
		t.Fatalf("enrich retries = %d, want 6", got)
	}
	if got := cfg.MaxRetriesFor("intent"); got != 2 {
		t.Fatalf("intent retries = %d, want 2", got)
	}
	if len(cfg.Enrichment.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(cfg.Enrichment.Accounts))
	}
	if cfg.Enrichment.Accounts[0].DailyLimit != 150 {
		t.Fatalf("expected default daily limit, got %d", cfg.Enrichment.Accounts[0].DailyLimit)
	}
	if cfg.Enrichment.Accounts[1].DailyLimit != 40 {
		t.Fatalf("expected explicit daily limit, got %d", cfg.Enrichment.Accounts[1].DailyLimit)
	}
	if got := strings.Join(cfg.Classification.Languages, ","); got != "en,es" {
		t.Fatalf("languages = %q, want en,es", got)
	}
	if got := strings.Join(cfg.Classification.Countries, ","); got != "GB" {
		t.Fatalf("countries = %q, want GB", got)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[pipeline]\nbogus = 1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error for unknown key")
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"spacing inverted", func(c *config.Config) { c.Executor.MinSpacingMillis = 5000; c.Executor.MaxSpacingMillis = 100 }, "executor.max_spacing_ms"},
		{"unknown ledger", func(c *config.Config) { c.Ledger.Backend = "etcd" }, "ledger.backend"},
		{"kafka without brokers", func(c *config.Config) { c.Events.Backend = "kafka" }, "events.kafka_brokers"},
		{"duplicate account", func(c *config.Config) {
			c.Enrichment.Accounts = []config.Account{{ID: "a", DailyLimit: 1}, {ID: "a", DailyLimit: 1}}
		}, "duplicate id"},
		{"unknown stage", func(c *config.Config) { c.Pipeline.StageMaxRetries = map[string]int{"ripping": 1} }, "unknown stage"},
		{"bad provider", func(c *config.Config) { c.LLM.Provider = "mystery" }, "llm.provider"},
		{"bare ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/leads" }, "notifications.ntfy_topic"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.MaxRetriesFor("enrich") != 5 {
		t.Fatalf("sample enrich retries = %d, want 5", cfg.MaxRetriesFor("enrich"))
	}
}
