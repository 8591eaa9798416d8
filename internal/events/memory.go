package events

import (
	"context"
	"log/slog"
	"sync"

	"leadpipe/internal/logging"
)

// MemoryBus is a buffered in-process bus.
type MemoryBus struct {
	ch     chan StageCompleted
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewMemoryBus returns a bus holding up to size undelivered events.
func NewMemoryBus(size int, logger *slog.Logger) *MemoryBus {
	if size <= 0 {
		size = 1
	}
	return &MemoryBus{
		ch:     make(chan StageCompleted, size),
		done:   make(chan struct{}),
		logger: logging.NewComponentLogger(logger, "events"),
	}
}

// Publish enqueues ev without blocking.
func (b *MemoryBus) Publish(_ context.Context, ev StageCompleted) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.ch <- ev:
		return nil
	default:
		return ErrBusFull
	}
}

func (b *MemoryBus) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case ev := <-b.ch:
			if err := handler(ctx, ev); err != nil {
				logging.WithContext(ctx, b.logger).Debug("event handler failed; record left for stage pollers",
					logging.Int64(logging.FieldRecordID, ev.RecordID),
					logging.String("event_id", ev.ID),
					logging.Error(err),
				)
			}
		}
	}
}

// Pending reports how many events wait for a consumer.
func (b *MemoryBus) Pending() int {
	return len(b.ch)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
