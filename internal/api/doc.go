// Package api defines wire-format types and converters for the status HTTP
// API and the CLI. It translates internal queue models into transport-friendly
// DTOs so dashboards and scripts can render pipeline state without coupling to
// internal types.
//
// # Key Types
//
// Record: transport representation of a pipeline record with its stage
// results passed through as raw JSON.
//
// Lead, Credential, StageCount, ReasonCount, Batch: read-only report rows.
//
// WorkflowStatus and DaemonStatus: manager state, queue stats, stage health.
//
// # Services
//
// QueueService answers every report from a Reader (normally *queue.Store).
// Client fetches the same payloads from a running daemon.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (queue.Status, queue.Stage)
// are exposed as lowercase strings. Timestamps use RFC3339 with milliseconds.
package api
