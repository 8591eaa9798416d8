// Package services defines shared utilities consumed by the stage executors
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp record IDs, stage names, batch IDs, and
//     correlation identifiers for logging.
//   - Structured error markers, the Wrap helper, and ExternalError, which let
//     the workflow tell transient provider failures from permanent ones.
//
// Provider clients live in subpackages (llm, gemini, profiles) and report
// failures through these markers so retry behaviour stays uniform.
package services
