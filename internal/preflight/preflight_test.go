package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"leadpipe/internal/config"
	"leadpipe/internal/testsupport"
)

func llmServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": `{"ok":true}`}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckLLM_OK(t *testing.T) {
	srv := llmServer(t, http.StatusOK)
	result := CheckLLM(context.Background(), "LLM", config.LLM{Provider: "openrouter", APIKey: "k", BaseURL: srv.URL, Model: "m"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLLM_BadKey(t *testing.T) {
	srv := llmServer(t, http.StatusUnauthorized)
	result := CheckLLM(context.Background(), "LLM", config.LLM{Provider: "openrouter", APIKey: "bad", BaseURL: srv.URL, Model: "m"})
	if result.Passed {
		t.Fatal("expected failure for rejected key")
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "LLM", config.LLM{Provider: "openrouter"})
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckProfileAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	accounts := []config.Account{{ID: "a", Token: "t"}}
	if r := CheckProfileAPI(context.Background(), config.Enrichment{BaseURL: srv.URL, Accounts: accounts}); !r.Passed {
		t.Fatalf("expected pass, got: %s", r.Detail)
	}
	if r := CheckProfileAPI(context.Background(), config.Enrichment{BaseURL: srv.URL}); r.Passed {
		t.Fatal("expected failure without accounts")
	}
	if r := CheckProfileAPI(context.Background(), config.Enrichment{Accounts: accounts}); r.Passed {
		t.Fatal("expected failure without base url")
	}
}

func TestCheckProfileAPI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := CheckProfileAPI(context.Background(), config.Enrichment{BaseURL: srv.URL, Accounts: []config.Account{{ID: "a"}}})
	if r.Passed {
		t.Fatal("expected failure for 502")
	}
}

func TestCheckDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	result := CheckDatabase(context.Background(), store)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if r := CheckDatabase(context.Background(), nil); r.Passed {
		t.Fatal("expected failure for nil store")
	}
}

func TestCheckKafka_NoBrokers(t *testing.T) {
	if r := CheckKafka(context.Background(), config.Events{KafkaTopic: "t"}); r.Passed {
		t.Fatal("expected failure without brokers")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	llmSrv := llmServer(t, http.StatusOK)
	profiles := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer profiles.Close()

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	cfg.LLM.BaseURL = llmSrv.URL
	cfg.Enrichment.BaseURL = profiles.URL

	results := RunAll(context.Background(), cfg)
	// data dir, log dir, llm, profile api
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d: %+v", len(results), results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesKafkaWhenSelected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.LLM.APIKey = ""
	cfg.Events.Backend = "kafka"
	cfg.Events.KafkaBrokers = nil

	results := RunAll(context.Background(), cfg)
	found := false
	for _, r := range results {
		if r.Name == "Kafka events" {
			found = true
			if r.Passed {
				t.Error("expected kafka check to fail without brokers")
			}
		}
	}
	if !found {
		t.Fatal("expected Kafka check in results")
	}
	if len(Failed(results)) < 3 {
		t.Fatalf("expected missing dirs, key, and kafka to fail: %+v", results)
	}
}
