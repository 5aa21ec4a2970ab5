package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// DeadLetterHandler processes one dead letter. Return nil to commit its offset.
type DeadLetterHandler func(ctx context.Context, dl DeadLetter) error

// DeadLetterReader drains a dead-letter topic.
type DeadLetterReader interface {
	// Consume reads until ctx is cancelled. Offsets are committed only after
	// handler succeeds, so a failed replay is seen again on restart.
	Consume(ctx context.Context, handler DeadLetterHandler) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterReader struct {
	reader messageReader
	logger *slog.Logger
}

// NewDeadLetterReader creates a consumer-group reader for topic.
func NewDeadLetterReader(brokers []string, topic, groupID string, logger *slog.Logger) DeadLetterReader {
	if topic == "" {
		topic = DefaultDeadLetterTopic
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10 MB
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // manual commit only
		StartOffset:    kafka.FirstOffset,
	})
	return &deadLetterReader{reader: r, logger: logger}
}

func (d *deadLetterReader) Consume(ctx context.Context, handler DeadLetterHandler) error {
	for {
		m, err := d.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		carrier := headerCarrier(m.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)

		if err := handler(msgCtx, decodeDeadLetter(m)); err != nil {
			d.logger.Error("dead letter handler failed, skipping commit",
				slog.String("task_id", string(m.Key)),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := d.reader.CommitMessages(ctx, m); err != nil {
			d.logger.Error("failed to commit kafka offset",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (d *deadLetterReader) Close() error {
	return d.reader.Close()
}

func decodeDeadLetter(m kafka.Message) DeadLetter {
	h := headerCarrier(m.Headers)
	attempts, _ := strconv.Atoi(h.Get(HeaderAttempts))
	return DeadLetter{
		TaskID:   string(m.Key),
		Phase:    h.Get(HeaderPhase),
		Queue:    h.Get(HeaderQueue),
		WorkerID: h.Get(HeaderWorker),
		Attempts: attempts,
		Error:    h.Get(HeaderError),
		Raw:      m.Value,
	}
}
