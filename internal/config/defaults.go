package config

const (
	defaultConfigPath               = "~/.config/leadpipe/config.toml"
	defaultDataDir                  = "~/.local/share/leadpipe"
	defaultLogDir                   = "~/.local/share/leadpipe/logs"
	defaultAPIBind                  = "127.0.0.1:7488"
	defaultLLMProvider              = "openrouter"
	defaultLLMBaseURL               = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                 = "google/gemini-3-flash-preview"
	defaultGeminiModel              = "gemini-2.5-flash"
	defaultLLMReferer               = "https://github.com/leadpipe/leadpipe"
	defaultLLMTitle                 = "leadpipe classifier"
	defaultLLMTimeoutSeconds        = 60
	defaultLLMRequestsPerSecond     = 2
	defaultBatchSize                = 50
	defaultParallelism              = 5
	defaultSubBatchPauseMillis      = 500
	defaultPollIntervalSeconds      = 5
	defaultEventWorkers             = 2
	defaultMaxRetries               = 3
	defaultRetryBaseSeconds         = 30
	defaultRetryMaxSeconds          = 1800
	defaultMinSpacingMillis         = 2000
	defaultMaxSpacingMillis         = 8000
	defaultExecutorMaxAttempts      = 4
	defaultBackoffBaseMillis        = 1000
	defaultBackoffMaxMillis         = 30000
	defaultClaimWaitSeconds         = 30
	defaultEnrichmentTimeoutSeconds = 30
	defaultReuseWindowHours         = 24 * 30
	defaultDailyLimit               = 150
	defaultLedgerBackend            = "sqlite"
	defaultRedisAddr                = "127.0.0.1:6379"
	defaultLedgerKeyPrefix          = "leadpipe"
	defaultEventsBackend            = "memory"
	defaultEventBufferSize          = 256
	defaultKafkaTopic               = "leadpipe.stage-completed"
	defaultKafkaGroupID             = "leadpipe-workers"
	defaultStaleAfterMinutes        = 30
	defaultStalePriorityPenalty     = 10
	defaultRejectionLookbackHours   = 72
	defaultRejectionSweepLimit      = 500
	defaultCredentialTimeoutMinutes = 10
	defaultStaleSchedule            = "@every 10m"
	defaultRejectionSchedule        = "@every 6h"
	defaultCredentialSchedule       = "@every 2m"
	defaultNtfyTimeoutSeconds       = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionDays         = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		LLM: LLM{
			Provider:          defaultLLMProvider,
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			Referer:           defaultLLMReferer,
			Title:             defaultLLMTitle,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			RequestsPerSecond: defaultLLMRequestsPerSecond,
		},
		Classification: Classification{
			Languages:  []string{"en"},
			Categories: defaultCategories(),
		},
		Pipeline: Pipeline{
			BatchSize:           defaultBatchSize,
			Parallelism:         defaultParallelism,
			SubBatchPauseMillis: defaultSubBatchPauseMillis,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			EventWorkers:        defaultEventWorkers,
			MaxRetries:          defaultMaxRetries,
			RetryBaseSeconds:    defaultRetryBaseSeconds,
			RetryMaxSeconds:     defaultRetryMaxSeconds,
		},
		Executor: Executor{
			MinSpacingMillis:  defaultMinSpacingMillis,
			MaxSpacingMillis:  defaultMaxSpacingMillis,
			MaxAttempts:       defaultExecutorMaxAttempts,
			BackoffBaseMillis: defaultBackoffBaseMillis,
			BackoffMaxMillis:  defaultBackoffMaxMillis,
			ClaimWaitSeconds:  defaultClaimWaitSeconds,
		},
		Enrichment: Enrichment{
			TimeoutSeconds:    defaultEnrichmentTimeoutSeconds,
			ReuseWindowHours:  defaultReuseWindowHours,
			DefaultDailyLimit: defaultDailyLimit,
		},
		Ledger: Ledger{
			Backend:   defaultLedgerBackend,
			RedisAddr: defaultRedisAddr,
			KeyPrefix: defaultLedgerKeyPrefix,
		},
		Events: Events{
			Backend:      defaultEventsBackend,
			BufferSize:   defaultEventBufferSize,
			KafkaTopic:   defaultKafkaTopic,
			KafkaGroupID: defaultKafkaGroupID,
		},
		Recovery: Recovery{
			StaleAfterMinutes:        defaultStaleAfterMinutes,
			StalePriorityPenalty:     defaultStalePriorityPenalty,
			RejectionLookbackHours:   defaultRejectionLookbackHours,
			RejectionSweepLimit:      defaultRejectionSweepLimit,
			CredentialTimeoutMinutes: defaultCredentialTimeoutMinutes,
			StaleSchedule:            defaultStaleSchedule,
			RejectionSchedule:        defaultRejectionSchedule,
			CredentialSchedule:       defaultCredentialSchedule,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			Leads:                 true,
			Failures:              true,
			Drains:                true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

func defaultCategories() []string {
	return []string{"Tech", "Sales", "Marketing", "Finance", "Operations", "Healthcare", "Other"}
}
