package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"leadpipe/internal/config"
	"leadpipe/internal/logging"
)

const fetchRetryDelay = time.Second

// KafkaBus publishes events to a topic and consumes them through a consumer
// group. Messages are keyed by record id so one record's events stay ordered.
type KafkaBus struct {
	writer *kafka.Writer
	cfg    config.Events
	logger *slog.Logger

	readers chan *kafka.Reader
}

// NewKafkaBus builds a bus for the configured brokers and topic.
func NewKafkaBus(cfg config.Events, logger *slog.Logger) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("events: kafka_brokers must be set for the kafka backend")
	}
	if cfg.KafkaTopic == "" {
		return nil, errors.New("events: kafka_topic must be set for the kafka backend")
	}
	logger = logging.NewComponentLogger(logger, "events")
	bus := &KafkaBus{
		cfg:     cfg,
		logger:  logger,
		readers: make(chan *kafka.Reader, 64),
	}
	bus.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion:   bus.completion,
	}
	return bus, nil
}

// Publish hands ev to the asynchronous writer. Delivery failures are logged
// by the completion callback.
func (b *KafkaBus) Publish(ctx context.Context, ev StageCompleted) error {
	msg, err := encodeMessage(ev)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return ErrClosed
		}
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

func (b *KafkaBus) completion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(b.logger, "stage event delivery failed", "event_publish_failed",
		logging.Int("messages", len(messages)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check kafka brokers; stage pollers will pick the records up"),
		logging.String(logging.FieldImpact, "next stage starts on the next poll instead of immediately"),
	)
}

// Consume reads from the consumer group and commits each message after the
// handler succeeds. Undecodable messages are committed and skipped.
func (b *KafkaBus) Consume(ctx context.Context, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.KafkaBrokers,
		Topic:    b.cfg.KafkaTopic,
		GroupID:  b.cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	select {
	case b.readers <- reader:
	default:
	}
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			b.logger.Warn("kafka fetch failed", logging.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		ev, err := decodeMessage(msg)
		if err != nil {
			b.logger.Warn("dropping undecodable stage event",
				logging.Int64("offset", msg.Offset),
				logging.Error(err),
			)
			b.commit(ctx, reader, msg)
			continue
		}
		if err := handler(ctx, ev); err != nil {
			logging.WithContext(ctx, b.logger).Debug("event handler failed; message left uncommitted",
				logging.Int64(logging.FieldRecordID, ev.RecordID),
				logging.Error(err),
			)
			continue
		}
		b.commit(ctx, reader, msg)
	}
}

func (b *KafkaBus) commit(ctx context.Context, reader *kafka.Reader, msg kafka.Message) {
	if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		b.logger.Warn("kafka commit failed", logging.Error(err))
	}
}

// Close flushes the writer and closes readers opened by Consume.
func (b *KafkaBus) Close() error {
	err := b.writer.Close()
	for {
		select {
		case r := <-b.readers:
			r.Close()
		default:
			return err
		}
	}
}

func encodeMessage(ev StageCompleted) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: encode: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.RecordID, 10)),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "stage", Value: []byte(ev.Stage)},
			{Key: "status", Value: []byte(ev.Status)},
		},
	}, nil
}

func decodeMessage(msg kafka.Message) (StageCompleted, error) {
	var ev StageCompleted
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return ev, fmt.Errorf("events: decode: %w", err)
	}
	if ev.RecordID == 0 {
		return ev, errors.New("events: decode: missing record id")
	}
	return ev, nil
}
