// Package events carries StageCompleted notifications from the workflow
// orchestrator to the workers that claim each record's next stage.
//
// MemoryBus serves a single process. KafkaBus shares the stream across
// instances through a consumer group. Publishing never blocks the caller; a
// lost event only delays the record until a stage poller claims it.
package events
