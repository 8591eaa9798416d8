package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownStages = map[string]struct{}{
	"intent":      {},
	"qualify":     {},
	"categorize":  {},
	"enrich":      {},
	"materialize": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateExecutor(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case "openrouter", "gemini":
	default:
		return fmt.Errorf("llm.provider: unsupported value %q (expected openrouter or gemini)", c.LLM.Provider)
	}
	if c.LLM.RequestsPerSecond < 0 {
		return errors.New("llm.requests_per_second must be >= 0")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must be >= 0")
	}
	for stage, retries := range c.Pipeline.StageMaxRetries {
		if _, ok := knownStages[stage]; !ok {
			return fmt.Errorf("pipeline.stage_max_retries: unknown stage %q", stage)
		}
		if retries < 0 {
			return fmt.Errorf("pipeline.stage_max_retries.%s must be >= 0", stage)
		}
	}
	if c.Pipeline.SubBatchPauseMillis < 0 {
		return errors.New("pipeline.sub_batch_pause_ms must be >= 0")
	}
	if c.Pipeline.RetryBaseSeconds < 0 || c.Pipeline.RetryMaxSeconds < c.Pipeline.RetryBaseSeconds {
		return errors.New("pipeline.retry_max_seconds must be >= pipeline.retry_base_seconds >= 0")
	}
	return nil
}

func (c *Config) validateExecutor() error {
	e := c.Executor
	if e.MinSpacingMillis < 0 || e.MaxSpacingMillis < e.MinSpacingMillis {
		return errors.New("executor.max_spacing_ms must be >= executor.min_spacing_ms >= 0")
	}
	if e.MaxAttempts <= 0 {
		return errors.New("executor.max_attempts must be positive")
	}
	if e.BackoffBaseMillis < 0 || e.BackoffMaxMillis < e.BackoffBaseMillis {
		return errors.New("executor.backoff_max_ms must be >= executor.backoff_base_ms >= 0")
	}
	if e.ClaimWaitSeconds < 0 {
		return errors.New("executor.claim_wait_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	seen := make(map[string]struct{}, len(c.Enrichment.Accounts))
	for i, acct := range c.Enrichment.Accounts {
		if acct.ID == "" {
			return fmt.Errorf("enrichment.accounts[%d].id must be set", i)
		}
		if _, dup := seen[acct.ID]; dup {
			return fmt.Errorf("enrichment.accounts: duplicate id %q", acct.ID)
		}
		seen[acct.ID] = struct{}{}
		if acct.DailyLimit <= 0 {
			return fmt.Errorf("enrichment.accounts[%d].daily_limit must be positive", i)
		}
	}
	if c.Enrichment.ReuseWindowHours < 0 {
		return errors.New("enrichment.reuse_window_hours must be >= 0")
	}
	return nil
}

func (c *Config) validateBackends() error {
	switch c.Ledger.Backend {
	case "sqlite":
	case "redis":
		if strings.TrimSpace(c.Ledger.RedisAddr) == "" {
			return errors.New("ledger.redis_addr must be set when ledger.backend is redis")
		}
	default:
		return fmt.Errorf("ledger.backend: unsupported value %q (expected sqlite or redis)", c.Ledger.Backend)
	}
	switch c.Events.Backend {
	case "memory":
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			return errors.New("events.kafka_brokers must be set when events.backend is kafka")
		}
		if strings.TrimSpace(c.Events.KafkaTopic) == "" {
			return errors.New("events.kafka_topic must be set when events.backend is kafka")
		}
	default:
		return fmt.Errorf("events.backend: unsupported value %q (expected memory or kafka)", c.Events.Backend)
	}
	return nil
}

func (c *Config) validateRecovery() error {
	r := c.Recovery
	if r.StaleAfterMinutes <= 0 {
		return errors.New("recovery.stale_after_minutes must be positive")
	}
	if r.StalePriorityPenalty < 0 {
		return errors.New("recovery.stale_priority_penalty must be >= 0")
	}
	if r.RejectionLookbackHours <= 0 {
		return errors.New("recovery.rejection_lookback_hours must be positive")
	}
	if r.CredentialTimeoutMinutes <= 0 {
		return errors.New("recovery.credential_timeout_minutes must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic: must be a full http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
