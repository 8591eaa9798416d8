package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// LLM contains the classifier backend connection settings.
type LLM struct {
	Provider          string  `toml:"provider"`
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	Referer           string  `toml:"referer"`
	Title             string  `toml:"title"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Temperature       float64 `toml:"temperature"`
}

// Classification contains the qualification targets for stages 2 and 3.
type Classification struct {
	Languages  []string `toml:"languages"`
	Countries  []string `toml:"countries"`
	Categories []string `toml:"categories"`
}

// Pipeline contains batch sizing and per-stage retry budgets.
type Pipeline struct {
	BatchSize           int            `toml:"batch_size"`
	Parallelism         int            `toml:"parallelism"`
	SubBatchPauseMillis int            `toml:"sub_batch_pause_ms"`
	PollIntervalSeconds int            `toml:"poll_interval_seconds"`
	EventWorkers        int            `toml:"event_workers"`
	MaxRetries          int            `toml:"max_retries"`
	StageMaxRetries     map[string]int `toml:"stage_max_retries"`
	RetryBaseSeconds    int            `toml:"retry_base_seconds"`
	RetryMaxSeconds     int            `toml:"retry_max_seconds"`
}

// Executor contains the rate-limited call executor policy.
type Executor struct {
	MinSpacingMillis  int `toml:"min_spacing_ms"`
	MaxSpacingMillis  int `toml:"max_spacing_ms"`
	MaxAttempts       int `toml:"max_attempts"`
	BackoffBaseMillis int `toml:"backoff_base_ms"`
	BackoffMaxMillis  int `toml:"backoff_max_ms"`
	ClaimWaitSeconds  int `toml:"claim_wait_seconds"`
}

// Account is one enrichment API credential.
type Account struct {
	ID         string `toml:"id"`
	Token      string `toml:"token"`
	DailyLimit int    `toml:"daily_limit"`
}

// Enrichment contains the profile API settings and its accounts.
type Enrichment struct {
	BaseURL           string    `toml:"base_url"`
	TimeoutSeconds    int       `toml:"timeout_seconds"`
	ReuseWindowHours  int       `toml:"reuse_window_hours"`
	DefaultDailyLimit int       `toml:"default_daily_limit"`
	Accounts          []Account `toml:"accounts"`
}

// Ledger selects where credential bookkeeping lives.
type Ledger struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
}

// Events selects the stage-complete event transport.
type Events struct {
	Backend      string   `toml:"backend"`
	BufferSize   int      `toml:"buffer_size"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
	KafkaGroupID string   `toml:"kafka_group_id"`
}

// Recovery contains sweep thresholds and cron schedules.
type Recovery struct {
	StaleAfterMinutes        int    `toml:"stale_after_minutes"`
	StalePriorityPenalty     int    `toml:"stale_priority_penalty"`
	RejectionLookbackHours   int    `toml:"rejection_lookback_hours"`
	RejectionSweepLimit      int    `toml:"rejection_sweep_limit"`
	CredentialTimeoutMinutes int    `toml:"credential_timeout_minutes"`
	StaleSchedule            string `toml:"stale_schedule"`
	RejectionSchedule        string `toml:"rejection_schedule"`
	CredentialSchedule       string `toml:"credential_schedule"`
	KeywordsFile             string `toml:"keywords_file"`
}

// Notifications contains the optional ntfy push settings.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	Leads                 bool   `toml:"leads"`
	Failures              bool   `toml:"failures"`
	Drains                bool   `toml:"drains"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for leadpipe.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - LLM: classifier backend (openrouter-compatible HTTP or gemini)
//   - Classification: accepted languages, countries, and categories
//   - Pipeline: batch sizes, parallelism, and retry budgets
//   - Executor: per-account spacing and backoff for enrichment calls
//   - Enrichment: profile API endpoint and credential accounts
//   - Ledger: sqlite or redis credential bookkeeping
//   - Events: memory or kafka stage-complete transport
//   - Recovery: sweep thresholds and schedules
//   - Notifications: ntfy topic and which events are pushed
//   - Logging: log format, level, and retention
type Config struct {
	Paths          Paths          `toml:"paths"`
	LLM            LLM            `toml:"llm"`
	Classification Classification `toml:"classification"`
	Pipeline       Pipeline       `toml:"pipeline"`
	Executor       Executor       `toml:"executor"`
	Enrichment     Enrichment     `toml:"enrichment"`
	Ledger         Ledger         `toml:"ledger"`
	Events         Events         `toml:"events"`
	Recovery       Recovery       `toml:"recovery"`
	Notifications  Notifications  `toml:"notifications"`
	Logging        Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("leadpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file holding records, leads, and credentials.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "leadpipe.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "leadpipe.lock")
}

// CurrentLogPath returns the pointer to the running daemon's log file.
func (c *Config) CurrentLogPath() string {
	return filepath.Join(c.Paths.LogDir, "daemon.log")
}

// MaxRetriesFor returns the retry budget for a stage, falling back to the
// pipeline-wide default.
func (c *Config) MaxRetriesFor(stage string) int {
	if n, ok := c.Pipeline.StageMaxRetries[stage]; ok && n >= 0 {
		return n
	}
	return c.Pipeline.MaxRetries
}

// PollInterval returns the stage poller interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollIntervalSeconds) * time.Second
}

// SubBatchPause returns the pause between sub-batches.
func (c *Config) SubBatchPause() time.Duration {
	return time.Duration(c.Pipeline.SubBatchPauseMillis) * time.Millisecond
}

// RetryBackoff returns the base and cap for record-level retry scheduling.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Pipeline.RetryBaseSeconds) * time.Second,
		time.Duration(c.Pipeline.RetryMaxSeconds) * time.Second
}

// ReuseWindow returns how far back an existing enrichment may be reused.
func (c *Config) ReuseWindow() time.Duration {
	return time.Duration(c.Enrichment.ReuseWindowHours) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
