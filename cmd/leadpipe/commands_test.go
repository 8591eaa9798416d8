package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"leadpipe/internal/api"
	"leadpipe/internal/testsupport"
)

const (
	validPostA = `{"urn":"urn:post:a","text":"We are hiring a backend engineer","author_profile_id":"alice","author_name":"Alice","post_url":"https://social.example/posts/a"}`
	validPostB = `{"urn":"urn:post:b","text":"Looking for a sales lead in Berlin","author_profile_id":"bob","post_url":"https://social.example/posts/b"}`
	invalidURN = `{"text":"missing urn","author_profile_id":"carol","post_url":"https://social.example/posts/c"}`
)

func TestConfigInitRefusesOverwrite(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	target := filepath.Join(home, "leadpipe.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected error when config exists")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, target); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}

func TestIngestThenReportFromDatabase(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "posts.jsonl")
	writeLines(t, input, validPostA, "", invalidURN, validPostB)

	out, _, err := runCLI(t, []string{"ingest", input, "--batch", "b1"}, env.configPath)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	requireContains(t, out, "Batch b1")
	requireContains(t, out, "Dropped posts")
	requireContains(t, out, "urn is required")

	out, _, err = runCLI(t, []string{"records", "list", "--batch", "b1", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("records list: %v", err)
	}
	var records []api.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode records: %v\n%s", err, out)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Status != "queued" || r.BatchID != "b1" {
			t.Fatalf("unexpected record %+v", r)
		}
	}

	out, _, err = runCLI(t, []string{"batches"}, env.configPath)
	if err != nil {
		t.Fatalf("batches: %v", err)
	}
	requireContains(t, out, "b1")
	requireContains(t, out, "posts.jsonl")

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "intent")

	out, _, err = runCLI(t, []string{"records", "show", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("records show: %v", err)
	}
	requireContains(t, out, `"naturalKey"`)
}

func TestRecordsShowMissing(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"records", "show", "999"}, env.configPath)
	if err == nil {
		t.Fatal("expected not found error")
	}
	requireContains(t, err.Error(), "not found")

	if _, _, err := runCLI(t, []string{"records", "show", "abc"}, env.configPath); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestRecordsListRejectsUnknownStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"records", "list", "--status", "bogus"}, env.configPath); err == nil {
		t.Fatal("expected unknown status error")
	}
}

func TestReprocessRequiresForce(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"reprocess"}, env.configPath); err == nil {
		t.Fatal("expected --force requirement")
	}
	out, _, err := runCLI(t, []string{"reprocess", "--force", "--batch", "b9"}, env.configPath)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	requireContains(t, out, "Reset 0 record(s) in batch b9")
}

func TestRecoverCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"recover", "stale"}, env.configPath)
	if err != nil {
		t.Fatalf("recover stale: %v", err)
	}
	requireContains(t, out, "Requeued 0 stale record(s)")

	out, _, err = runCLI(t, []string{"recover", "requalify"}, env.configPath)
	if err != nil {
		t.Fatalf("recover requalify: %v", err)
	}
	requireContains(t, out, "Examined 0")

	out, _, err = runCLI(t, []string{"recover", "credentials"}, env.configPath)
	if err != nil {
		t.Fatalf("recover credentials: %v", err)
	}
	requireContains(t, out, "No stuck credential claims")
}

func TestCredentialsListsSyncedAccounts(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.MustOpenStore(t, env.cfg)

	out, _, err := runCLI(t, []string{"credentials"}, env.configPath)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	requireContains(t, out, "acct-1")
	requireContains(t, out, "0/100")
}

func TestStatusUsesRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	d := env.startDaemon(t)

	out, _, err := runCLI(t, []string{"--api", d.Address(), "status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running (pid")
	requireContains(t, out, "Stage intent")
}

func TestCheckReportsFailures(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.LLM.APIKey = ""
	env.cfg.Enrichment.BaseURL = ""
	writeTestConfig(t, env.configPath, env.cfg)
	t.Setenv("LLM_API_KEY", "")

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err == nil {
		t.Fatal("expected failing checks")
	}
	requireContains(t, err.Error(), "2 of 5 checks failed")
	requireContains(t, out, "API key missing")
	requireContains(t, out, "Database")
}

func TestTestNotifySendsToTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err == nil {
		t.Fatal("expected error without a topic")
	}
	requireContains(t, err.Error(), "ntfy_topic is not set")

	titles := make(chan string, 1)
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		titles <- r.Header.Get("Title")
	}))
	defer ntfy.Close()
	env.cfg.Notifications.NtfyTopic = ntfy.URL
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Test notification sent")
	if title := <-titles; title != "leadpipe - Test" {
		t.Fatalf("title = %q", title)
	}
}

func TestLogsShowsCurrentDaemonLog(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := env.cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log lines")

	writeLines(t, env.cfg.CurrentLogPath(), "INFO stage started", "WARN record failed record_id=7", "INFO drain complete")
	out, _, err = runCLI(t, []string{"logs", "-n", "5", "--grep", "record_id=7"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --grep: %v", err)
	}
	requireContains(t, out, "record failed")
	if strings.Contains(out, "drain complete") {
		t.Fatalf("grep did not filter: %q", out)
	}
}
