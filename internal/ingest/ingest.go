package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/services"
)

// maxDropDetails bounds the per-post drop list kept in a Result.
const maxDropDetails = 100

// Drop records one post rejected at validation.
type Drop struct {
	Index  int
	URN    string
	Reason string
}

// Result summarizes one ingestion run.
type Result struct {
	BatchID    string
	Received   int
	Inserted   int
	Duplicates int
	Dropped    int
	RecordIDs  []int64
	Drops      []Drop
}

// Ingester writes validated posts into the record store.
type Ingester struct {
	store  *queue.Store
	logger *slog.Logger
	now    func() time.Time
}

// New returns an Ingester backed by store.
func New(store *queue.Store, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingester{
		store:  store,
		logger: logging.NewComponentLogger(logger, "ingest"),
		now:    time.Now,
	}
}

// SetClock overrides the time source used for priority scoring.
func (i *Ingester) SetClock(now func() time.Time) {
	if now != nil {
		i.now = now
	}
}

// Ingest consumes posts fully, then stores the valid ones under batchID. An
// empty batchID is replaced with a generated one.
func (i *Ingester) Ingest(ctx context.Context, batchID string, posts iter.Seq2[RawPost, error]) (Result, error) {
	return i.IngestSource(ctx, batchID, "", posts)
}

// IngestSource is Ingest with a source label stored on the batch row.
//
// Posts that fail validation, including undecodable lines from ReadJSONL, are
// counted as dropped. Any other error from the sequence aborts the run before
// a record is written.
func (i *Ingester) IngestSource(ctx context.Context, batchID, source string, posts iter.Seq2[RawPost, error]) (Result, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		batchID = uuid.NewString()
	}
	result := Result{BatchID: batchID}
	ctx = services.WithBatchID(ctx, batchID)
	logger := logging.WithContext(ctx, i.logger)

	var valid []RawPost
	index := 0
	for post, err := range posts {
		index++
		result.Received++
		if err == nil {
			err = post.Validate()
		}
		if err != nil {
			if !errors.Is(err, services.ErrValidation) {
				return result, fmt.Errorf("ingest batch %s: %w", batchID, err)
			}
			result.Dropped++
			if len(result.Drops) < maxDropDetails {
				result.Drops = append(result.Drops, Drop{Index: index, URN: strings.TrimSpace(post.URN), Reason: err.Error()})
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		valid = append(valid, post)
	}

	if err := i.store.BeginBatch(ctx, batchID, source); err != nil {
		return result, err
	}
	now := i.now()
	for _, post := range valid {
		payload := post.Payload()
		rec, created, err := i.store.InsertRecord(ctx, queue.NewRecord{
			NaturalKey: strings.TrimSpace(post.URN),
			BatchID:    batchID,
			Payload:    payload,
			Priority:   Priority(payload, now),
		})
		if err != nil {
			return result, err
		}
		if !created {
			result.Duplicates++
			continue
		}
		result.Inserted++
		result.RecordIDs = append(result.RecordIDs, rec.ID)
	}
	if err := i.store.CompleteBatch(ctx, queue.IngestBatch{
		ID:         batchID,
		Received:   result.Received,
		Inserted:   result.Inserted,
		Duplicates: result.Duplicates,
		Dropped:    result.Dropped,
	}); err != nil {
		return result, err
	}

	if result.Dropped > 0 {
		logging.WarnWithContext(logger, "posts dropped at ingestion", "ingest_validation_drops",
			logging.Int("dropped", result.Dropped),
			logging.String("first_reason", result.Drops[0].Reason),
			logging.String(logging.FieldImpact, "dropped posts are not queued"),
			logging.String(logging.FieldErrorHint, "check the producer export for missing urn, author, or url fields"),
		)
	}
	logger.Info("batch ingested",
		logging.String("source", source),
		logging.Int("received", result.Received),
		logging.Int("inserted", result.Inserted),
		logging.Int("duplicates", result.Duplicates),
		logging.Int("dropped", result.Dropped),
	)
	return result, nil
}
