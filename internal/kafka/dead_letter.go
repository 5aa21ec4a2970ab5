package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// DefaultDeadLetterTopic receives tasks that exhausted their retries.
const DefaultDeadLetterTopic = "tasks.dlq"

// Header keys attached to every dead letter.
const (
	HeaderError    = "x-task-error"
	HeaderAttempts = "x-task-attempts"
	HeaderWorker   = "x-worker-id"
	HeaderQueue    = "x-source-queue"
	HeaderPhase    = "x-task-phase"
)

// DeadLetter is a terminally failed task. Raw is the exact record that was
// fetched so it can be replayed onto a queue unchanged.
type DeadLetter struct {
	TaskID   string
	Phase    string
	Queue    string
	WorkerID string
	Attempts int
	Error    string
	Raw      []byte
}

// DeadLetterSink parks terminally failed tasks.
type DeadLetterSink interface {
	Send(ctx context.Context, dl DeadLetter) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterWriter struct {
	writer messageWriter
	topic  string
}

// NewDeadLetterSink creates a Kafka-backed sink publishing to topic.
func NewDeadLetterSink(brokers []string, topic string) DeadLetterSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // same task id → same partition
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,

		AllowAutoTopicCreation: true,
	}
	return newDeadLetterWriter(w, topic)
}

func newDeadLetterWriter(w messageWriter, topic string) *deadLetterWriter {
	if topic == "" {
		topic = DefaultDeadLetterTopic
	}
	return &deadLetterWriter{writer: w, topic: topic}
}

func (d *deadLetterWriter) Send(ctx context.Context, dl DeadLetter) error {
	headers := headerCarrier{
		{Key: HeaderError, Value: []byte(dl.Error)},
		{Key: HeaderAttempts, Value: []byte(strconv.Itoa(dl.Attempts))},
		{Key: HeaderWorker, Value: []byte(dl.WorkerID)},
		{Key: HeaderQueue, Value: []byte(dl.Queue)},
		{Key: HeaderPhase, Value: []byte(dl.Phase)},
	}
	// Carry the trace of the failed handling pass to whoever drains the DLQ.
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err := d.writer.WriteMessages(ctx, kafka.Message{
		Topic:   d.topic,
		Key:     []byte(dl.TaskID),
		Value:   dl.Raw,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("dead-letter %s to %s: %w", dl.TaskID, d.topic, err)
	}
	return nil
}

func (d *deadLetterWriter) Close() error {
	return d.writer.Close()
}

// headerCarrier lets the otel propagator read and write Kafka headers.
type headerCarrier []kafka.Header

func (c headerCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = h.Key
	}
	return keys
}
