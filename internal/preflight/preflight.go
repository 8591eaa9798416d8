package preflight

import (
	"context"

	"leadpipe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	if cfg.Paths.LogDir != "" && cfg.Paths.LogDir != cfg.Paths.DataDir {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}

	results = append(results, CheckLLM(ctx, "Classifier LLM", cfg.LLM))
	results = append(results, CheckProfileAPI(ctx, cfg.Enrichment))

	if cfg.Ledger.Backend == "redis" {
		results = append(results, CheckRedis(ctx, cfg.Ledger))
	}
	if cfg.Events.Backend == "kafka" {
		results = append(results, CheckKafka(ctx, cfg.Events))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
