// Package queue persists pipeline records, leads, and enrichment credentials in
// SQLite and exposes the primitives the workflow builds on.
//
// The Store owns schema initialization, idempotent record insertion keyed by
// natural key, compare-and-set status updates, batch claiming ordered by
// priority and age, atomic lead materialization, credential bookkeeping, and
// the recovery and reporting queries used by operators.
//
// The database is treated as the single source of truth for record state. All
// concurrency control happens here: callers never assume a status they did not
// just write under a status guard. Schema changes bump the version in
// schema.go; users clear the database to adopt the new schema.
package queue
