// Package llm provides an OpenRouter-compatible chat client used by the
// classification stages.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive a JSON payload.
// Client.HealthCheck: verify API key and model availability.
// DecodeLLMJSON: tolerant decoding of model output (code fences, prose).
//
// # Rate limiting and retries
//
// A token bucket (golang.org/x/time/rate) caps the request rate across all
// stage workers sharing the client. HTTP 408/429/5xx responses and network
// timeouts are retried with exponential backoff; Retry-After is honoured.
// Failures that survive the retry budget are returned as
// *services.ExternalError so the workflow can tell transient outages
// (retry the record later) from permanent ones.
package llm
