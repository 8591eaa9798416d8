package stage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"leadpipe/internal/queue"
	"leadpipe/internal/services"
)

// ErrPrecondition marks a record that reached a stage without the results the
// stage depends on.
var ErrPrecondition = errors.New("stage precondition not met")

// Handler describes the contract the workflow needs from each stage.
type Handler interface {
	Stage() queue.Stage
	// Check validates the record's prior results. It must not perform I/O.
	Check(rec *queue.Record) error
	Run(ctx context.Context, rec *queue.Record) (queue.StageResult, error)
	HealthCheck(ctx context.Context) Health
}

// Drafter is implemented by the materialization handler to describe the lead
// a successful run should create or merge into.
type Drafter interface {
	Draft(rec *queue.Record) queue.LeadDraft
}

// OutcomeKind classifies one stage execution.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	// OutcomeSkipped means the precondition failed; no retry budget is spent.
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeTransient OutcomeKind = "transient"
	OutcomePermanent OutcomeKind = "permanent"
	// OutcomeCancelled means the caller's context ended mid-run.
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome is the classified result of running a handler against a record.
type Outcome struct {
	Stage  queue.Stage
	Kind   OutcomeKind
	Result queue.StageResult
	Draft  *queue.LeadDraft
	Err    error
}

// Run executes h against rec and classifies the result. A panic inside the
// handler becomes a permanent failure for this record only.
func Run(ctx context.Context, h Handler, rec *queue.Record) (out Outcome) {
	out.Stage = h.Stage()
	if err := h.Check(rec); err != nil {
		out.Kind = OutcomeSkipped
		out.Err = fmt.Errorf("%w: %w", ErrPrecondition, err)
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out.Kind = OutcomePermanent
			out.Result = nil
			out.Draft = nil
			out.Err = fmt.Errorf("%s stage panic: %v\n%s", out.Stage, r, debug.Stack())
		}
	}()

	ctx = services.WithStage(services.WithRecordID(ctx, rec.ID), string(out.Stage))
	result, err := h.Run(ctx, rec)
	switch {
	case err == nil && result == nil:
		out.Kind = OutcomePermanent
		out.Err = fmt.Errorf("%s stage returned no result", out.Stage)
	case err == nil && result.Stage() != out.Stage:
		out.Kind = OutcomePermanent
		out.Err = fmt.Errorf("%s stage returned a %s result", out.Stage, result.Stage())
	case err == nil:
		out.Kind = OutcomeSucceeded
		out.Result = result
		if d, ok := h.(Drafter); ok {
			draft := d.Draft(rec)
			out.Draft = &draft
		}
	case ctx.Err() != nil:
		out.Kind = OutcomeCancelled
		out.Err = err
	case services.IsTransient(err):
		out.Kind = OutcomeTransient
		out.Err = err
	default:
		out.Kind = OutcomePermanent
		out.Err = err
	}
	return out
}

func precondition(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
