// Package config loads, normalizes, and validates leadpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LLM_API_KEY and GEMINI_API_KEY. The Config type centralizes every knob the
// daemon and CLI need: classifier credentials, enrichment accounts, spacing and
// retry budgets, recovery schedules, and the optional Redis/Kafka backends.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
