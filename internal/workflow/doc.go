// Package workflow advances records through the five pipeline stages.
//
// Next holds the legal status edges. The Orchestrator applies a stage
// outcome to a claimed record with a compare-and-set write, schedules
// retries, commits materialization, and publishes a StageCompleted event
// once the transition is durable. The Manager runs one poller per stage and a
// pool of event workers; pollers pick up anything the events missed, such as
// retries that became due or records released by a sweep.
//
// Drain runs the same stages synchronously until nothing is claimable, which
// is how the CLI's one-shot mode and the tests drive a batch to completion.
package workflow
