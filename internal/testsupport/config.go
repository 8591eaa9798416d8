package testsupport

import (
	"path/filepath"
	"testing"

	"leadpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Executor spacing and backoff are zeroed so tests do not sleep; options
// restore them where timing is under test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.LLM.APIKey = "test"
	cfgVal.Executor.MinSpacingMillis = 0
	cfgVal.Executor.MaxSpacingMillis = 0
	cfgVal.Executor.BackoffBaseMillis = 0
	cfgVal.Executor.BackoffMaxMillis = 0
	cfgVal.Executor.ClaimWaitSeconds = 1
	cfgVal.Pipeline.SubBatchPauseMillis = 0
	cfgVal.Pipeline.RetryBaseSeconds = 0
	cfgVal.Pipeline.RetryMaxSeconds = 0
	cfgVal.Enrichment.Accounts = []config.Account{{ID: "acct-1", Token: "token-1", DailyLimit: 100}}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxRetries sets the pipeline-wide retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxRetries = n
	}
}

// WithSpacing sets the executor's randomized spacing window.
func WithSpacing(minMillis, maxMillis int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Executor.MinSpacingMillis = minMillis
		b.cfg.Executor.MaxSpacingMillis = maxMillis
	}
}

// WithAccounts replaces the enrichment accounts.
func WithAccounts(accounts ...config.Account) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Enrichment.Accounts = accounts
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
