package workflow

import (
	"errors"
	"fmt"

	"leadpipe/internal/queue"
)

// ErrIllegalTransition means no edge leaves the status on the event.
var ErrIllegalTransition = errors.New("illegal status transition")

// Event is the input that moves a record along an edge.
type Event string

const (
	EventPositive     Event = "positive"
	EventNegative     Event = "negative"
	EventCompleted    Event = "completed"
	EventEnriched     Event = "enriched"
	EventLeadCreated  Event = "lead_created"
	EventLeadExists   Event = "lead_exists"
	EventPermanent    Event = "permanent"
	EventPrecondition Event = "precondition"
	// EventRetry is a transient failure with retries remaining.
	EventRetry Event = "retry"
	// EventExhausted is a transient failure with no retries remaining.
	EventExhausted Event = "exhausted"
	// EventReentry returns a retry_scheduled record to its stage.
	EventReentry Event = "reentry"
)

// Events lists every event.
func Events() []Event {
	return []Event{
		EventPositive, EventNegative, EventCompleted, EventEnriched, EventLeadCreated,
		EventLeadExists, EventPermanent, EventPrecondition, EventRetry, EventExhausted, EventReentry,
	}
}

var failureEdges = map[Event]queue.Status{
	EventPermanent:    queue.StatusError,
	EventPrecondition: queue.StatusError,
	EventRetry:        queue.StatusRetryScheduled,
	EventExhausted:    queue.StatusFailedPermanently,
}

var successEdges = map[queue.Status]map[Event]queue.Status{
	queue.StatusQueued: {
		EventPositive: queue.StatusAwaitingStage2,
		EventNegative: queue.StatusStage1Rejected,
	},
	queue.StatusAwaitingStage2: {
		EventPositive: queue.StatusAwaitingStage3,
		EventNegative: queue.StatusStage2Rejected,
	},
	queue.StatusAwaitingStage3: {
		EventCompleted: queue.StatusAwaitingEnrichment,
	},
	queue.StatusAwaitingEnrichment: {
		EventEnriched: queue.StatusAwaitingMaterialization,
		// Enrichment has its own terminal failure.
		EventPermanent: queue.StatusEnrichmentFailed,
	},
	queue.StatusAwaitingMaterialization: {
		EventLeadCreated: queue.StatusMaterialized,
		EventLeadExists:  queue.StatusDuplicate,
	},
}

// Next returns the status a record reaches when ev happens while it waits on
// (or is processing) stage. from is the stored status; processing resolves
// to the stage's waiting status.
func Next(from queue.Status, stage queue.Stage, ev Event) (queue.Status, error) {
	waiting := stage.WaitingStatus()
	if waiting == "" {
		return "", fmt.Errorf("%w: unknown stage %q", ErrIllegalTransition, stage)
	}
	if from == queue.StatusProcessing {
		from = waiting
	}

	if from == queue.StatusRetryScheduled {
		if ev == EventReentry {
			return waiting, nil
		}
		return "", illegal(from, stage, ev)
	}
	if from != waiting {
		return "", illegal(from, stage, ev)
	}
	if to, ok := successEdges[from][ev]; ok {
		return to, nil
	}
	if to, ok := failureEdges[ev]; ok {
		return to, nil
	}
	return "", illegal(from, stage, ev)
}

func illegal(from queue.Status, stage queue.Stage, ev Event) error {
	return fmt.Errorf("%w: %s --%s--> ? (stage %s)", ErrIllegalTransition, from, ev, stage)
}
