package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	// the Manager already groups events, so the writer only waits briefly
	// for stragglers before producing
	defaultKafkaBatchTimeout = 10 * time.Millisecond
	defaultKafkaBatchSize    = 100
	defaultKafkaWriteTimeout = 10 * time.Second
)

type KafkaSinkConfig struct {
	Brokers []string
	Topic   string
	// BatchTimeout bounds how long the writer waits to fill a batch, default 10ms
	BatchTimeout time.Duration
	// BatchSize is the writer's maximum messages per produce request, default 100
	BatchSize int
	// WriteTimeout bounds one produce request, default 10s
	WriteTimeout time.Duration
}

func (c KafkaSinkConfig) validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("at least one kafka broker is required"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required"))
	}
	return errors.Join(errs...)
}

// messageWriter is satisfied by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON. Messages are keyed by the event's
// partition key and hashed onto partitions, so the events of one portal
// client or one source address keep their order.
type KafkaSink struct {
	writer    messageWriter
	log       *zap.SugaredLogger
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultKafkaBatchTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultKafkaBatchSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultKafkaWriteTimeout
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		BatchSize:    cfg.BatchSize,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}
	sink := newKafkaSinkWithWriter(w, logger)
	sink.log.Infow("Publishing audit events to kafka", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return sink, nil
}

func newKafkaSinkWithWriter(w messageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: w, log: logger.Named("kafka-audit").Sugar()}
}

func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	return s.WriteBatch(ctx, []*Event{event})
}

// WriteBatch produces all events with a single WriteMessages call. Events
// that fail to encode are skipped and reported in the returned error.
func (s *KafkaSink) WriteBatch(ctx context.Context, events []*Event) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	if len(events) == 0 {
		return nil
	}

	var errs []error
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := toMessage(event)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) > 0 {
		if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
			s.log.Debugw("Kafka produce failed", "messages", len(msgs), "error", err)
			errs = append(errs, fmt.Errorf("publishing %d audit events: %w", len(msgs), err))
		}
	}
	return errors.Join(errs...)
}

func toMessage(event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding audit event %s: %w", event.ID, err)
	}
	key := event.PartitionKey()
	if key == "" {
		key = event.ID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "severity", Value: []byte(event.Severity)},
			{Key: "actor_kind", Value: []byte(event.Actor.Kind)},
		},
	}, nil
}

// Close flushes buffered messages once; later calls return the same result.
func (s *KafkaSink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.writer.Close()
	})
	return s.closeErr
}

func (s *KafkaSink) Name() string {
	return "kafka"
}
