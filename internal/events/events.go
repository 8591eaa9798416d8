package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadpipe/internal/config"
	"leadpipe/internal/queue"
)

var (
	// ErrBusFull means a non-blocking publish found no buffer space.
	ErrBusFull = errors.New("event bus full")
	// ErrClosed means the bus no longer accepts events.
	ErrClosed = errors.New("event bus closed")
)

// StageCompleted announces that a record's transition was durably recorded.
// Next is empty when the record reached a terminal status.
type StageCompleted struct {
	ID         string       `json:"id"`
	RecordID   int64        `json:"record_id"`
	BatchID    string       `json:"batch_id,omitempty"`
	Stage      queue.Stage  `json:"stage"`
	Status     queue.Status `json:"status"`
	Next       queue.Stage  `json:"next,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Handler processes one event. A returned error leaves the event
// uncommitted where the transport supports redelivery.
type Handler func(ctx context.Context, ev StageCompleted) error

// Bus publishes and consumes StageCompleted events.
type Bus interface {
	Publish(ctx context.Context, ev StageCompleted) error
	// Consume blocks delivering events to handler until ctx ends or the bus
	// closes. Several consumers may run concurrently and share the stream.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// New builds the bus selected by the events configuration section.
func New(cfg *config.Config, logger *slog.Logger) (Bus, error) {
	switch cfg.Events.Backend {
	case "", "memory":
		return NewMemoryBus(cfg.Events.BufferSize, logger), nil
	case "kafka":
		return NewKafkaBus(cfg.Events, logger)
	default:
		return nil, fmt.Errorf("events: unsupported backend %q", cfg.Events.Backend)
	}
}
