// Package batch executes claimed records in sub-batches with bounded
// parallelism and per-record failure isolation.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"leadpipe/internal/config"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
)

const defaultParallelism = 5

// Func processes one record. Errors and panics are contained to that record.
type Func func(ctx context.Context, rec *queue.Record) error

// Summary reports the result of one Run. Unstarted holds claimed records that
// were never handed to the Func because ctx ended; the caller releases them.
type Summary struct {
	Processed int
	Failed    int
	Unstarted []*queue.Record
}

// Runner splits a claimed batch into sub-batches of Parallelism records,
// runs each sub-batch concurrently, and pauses between sub-batches.
type Runner struct {
	parallelism int
	pause       time.Duration
	logger      *slog.Logger
	sleep       func(context.Context, time.Duration) error
}

// NewRunner builds a runner. Non-positive parallelism uses the default of 5.
func NewRunner(parallelism int, pause time.Duration, logger *slog.Logger) *Runner {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Runner{
		parallelism: parallelism,
		pause:       pause,
		logger:      logging.NewComponentLogger(logger, "batch"),
		sleep:       sleepContext,
	}
}

// NewRunnerFromConfig reads parallelism and the sub-batch pause from the
// pipeline section.
func NewRunnerFromConfig(cfg *config.Config, logger *slog.Logger) *Runner {
	return NewRunner(cfg.Pipeline.Parallelism, cfg.SubBatchPause(), logger)
}

// Parallelism returns the sub-batch size.
func (r *Runner) Parallelism() int { return r.parallelism }

// Run processes recs and blocks until every started record finishes.
func (r *Runner) Run(ctx context.Context, recs []*queue.Record, fn Func) Summary {
	var summary Summary
	var failed atomic.Int64
	for start := 0; start < len(recs); start += r.parallelism {
		if start > 0 && r.pause > 0 {
			if err := r.sleep(ctx, r.pause); err != nil {
				summary.Unstarted = append(summary.Unstarted, recs[start:]...)
				break
			}
		}
		if ctx.Err() != nil {
			summary.Unstarted = append(summary.Unstarted, recs[start:]...)
			break
		}
		end := min(start+r.parallelism, len(recs))

		var g errgroup.Group
		g.SetLimit(r.parallelism)
		for _, rec := range recs[start:end] {
			g.Go(func() error {
				if err := r.runOne(ctx, rec, fn); err != nil {
					failed.Add(1)
					logging.WithContext(ctx, r.logger).Debug("record failed inside batch",
						logging.Int64(logging.FieldRecordID, rec.ID),
						logging.String(logging.FieldStage, string(rec.Stage)),
						logging.Error(err),
					)
				}
				return nil
			})
		}
		_ = g.Wait()
		summary.Processed += end - start
	}
	summary.Failed = int(failed.Load())
	return summary
}

func (r *Runner) runOne(ctx context.Context, rec *queue.Record, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("record %d panicked: %v", rec.ID, p)
			logging.ErrorWithContext(r.logger, "record processing panicked", "batch_record_panic",
				logging.Int64(logging.FieldRecordID, rec.ID),
				logging.Any("panic", p),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "the record stays claimed until the stale sweep requeues it"),
			)
		}
	}()
	return fn(ctx, rec)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
