// Package recovery returns stuck and rejected records to the pipeline.
//
// The Controller runs four sweeps: stale claims and idle waiting records go
// back to their stage with a priority penalty, recently rejected records that
// a Requalifier accepts restart at intent, errored records can be force reset,
// and credentials held past their timeout are released. Scheduler runs the
// automatic sweeps on cron schedules from the recovery config section.
package recovery
