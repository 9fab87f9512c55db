package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"corridor-router/internal/risk"
)

// KafkaOptions configure the Kafka sink.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	ClientID     string
	Compression  string
	RequiredAcks int
	MaxAttempts  int
	WriteTimeout time.Duration
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards engine events to a Kafka topic as JSON.
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaSink builds a sink writing to opts.Topic.
func NewKafkaSink(opts KafkaOptions, logger zerolog.Logger) (*KafkaSink, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 100 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(opts.RequiredAcks),
		Compression:  parseCompression(opts.Compression),
		MaxAttempts:  opts.MaxAttempts,
		WriteTimeout: opts.WriteTimeout,
		BatchTimeout: opts.BatchTimeout,
		Transport:    &kafka.Transport{ClientID: opts.ClientID},
	}
	return newKafkaSink(writer, opts.Topic, logger), nil
}

func newKafkaSink(w messageWriter, topic string, logger zerolog.Logger) *KafkaSink {
	return &KafkaSink{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "kafka_sink").Str("topic", topic).Logger(),
	}
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return "kafka" }

// Handle implements Sink. Events are keyed by type, or by corridor for
// corridor-scoped signals, so each key keeps its order within a partition.
func (k *KafkaSink) Handle(ctx context.Context, e risk.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := string(e.Type)
	if e.Signal != nil && e.Signal.Corridor != "" {
		key = e.Signal.Corridor
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event to %s: %w", k.topic, err)
	}
	k.logger.Debug().Str("event", string(e.Type)).Int("bytes", len(value)).Msg("event forwarded")
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

var _ Sink = (*KafkaSink)(nil)
