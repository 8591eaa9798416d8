// Package ingest turns raw scraped posts into queued records.
//
// Ingest drains the producer's sequence before writing anything, validates
// each post, assigns an initial priority from recency and completeness, and
// inserts records keyed by natural key so re-delivered batches are no-ops.
// Per-batch counters land in the ingest_batches table.
package ingest
