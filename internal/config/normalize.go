package config

import (
	"fmt"
	"os"
	"strings"

	"leadpipe/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeClassification()
	c.normalizePipeline()
	c.normalizeEnrichment()
	c.normalizeBackends()
	if err := c.normalizeRecovery(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("LEADPIPE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	if c.LLM.APIKey == "" {
		envKey := "LLM_API_KEY"
		if c.LLM.Provider == "gemini" {
			envKey = "GEMINI_API_KEY"
		}
		if value, ok := os.LookupEnv(envKey); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" && c.LLM.Provider != "gemini" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" || (c.LLM.Provider == "gemini" && c.LLM.Model == defaultLLMModel) {
		if c.LLM.Provider == "gemini" {
			c.LLM.Model = defaultGeminiModel
		} else {
			c.LLM.Model = defaultLLMModel
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeClassification() {
	c.Classification.Languages = language.NormalizeList(c.Classification.Languages)
	c.Classification.Countries = normalizeCodes(c.Classification.Countries, strings.ToUpper)
	categories := c.Classification.Categories[:0]
	for _, category := range c.Classification.Categories {
		if category = strings.TrimSpace(category); category != "" {
			categories = append(categories, category)
		}
	}
	if len(categories) == 0 {
		categories = defaultCategories()
	}
	c.Classification.Categories = categories
}

func normalizeCodes(values []string, fold func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = fold(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = defaultBatchSize
	}
	if c.Pipeline.Parallelism <= 0 {
		c.Pipeline.Parallelism = defaultParallelism
	}
	if c.Pipeline.PollIntervalSeconds <= 0 {
		c.Pipeline.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Pipeline.EventWorkers < 0 {
		c.Pipeline.EventWorkers = 0
	}
	if len(c.Pipeline.StageMaxRetries) > 0 {
		normalized := make(map[string]int, len(c.Pipeline.StageMaxRetries))
		for stage, retries := range c.Pipeline.StageMaxRetries {
			normalized[strings.ToLower(strings.TrimSpace(stage))] = retries
		}
		c.Pipeline.StageMaxRetries = normalized
	}
}

func (c *Config) normalizeEnrichment() {
	c.Enrichment.BaseURL = strings.TrimRight(strings.TrimSpace(c.Enrichment.BaseURL), "/")
	if c.Enrichment.TimeoutSeconds <= 0 {
		c.Enrichment.TimeoutSeconds = defaultEnrichmentTimeoutSeconds
	}
	for i := range c.Enrichment.Accounts {
		acct := &c.Enrichment.Accounts[i]
		acct.ID = strings.TrimSpace(acct.ID)
		acct.Token = strings.TrimSpace(acct.Token)
		if acct.DailyLimit <= 0 {
			acct.DailyLimit = c.Enrichment.DefaultDailyLimit
		}
	}
}

func (c *Config) normalizeBackends() {
	c.Ledger.Backend = strings.ToLower(strings.TrimSpace(c.Ledger.Backend))
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = defaultLedgerBackend
	}
	if strings.TrimSpace(c.Ledger.KeyPrefix) == "" {
		c.Ledger.KeyPrefix = defaultLedgerKeyPrefix
	}
	c.Events.Backend = strings.ToLower(strings.TrimSpace(c.Events.Backend))
	if c.Events.Backend == "" {
		c.Events.Backend = defaultEventsBackend
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = defaultEventBufferSize
	}
}

func (c *Config) normalizeRecovery() error {
	if c.Recovery.KeywordsFile != "" {
		expanded, err := expandPath(c.Recovery.KeywordsFile)
		if err != nil {
			return fmt.Errorf("recovery.keywords_file: %w", err)
		}
		c.Recovery.KeywordsFile = expanded
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
