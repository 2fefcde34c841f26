// Package queue publishes venue events to Kafka.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	// RequiredAcks is -1 (all replicas), 0 (none) or 1 (leader).
	RequiredAcks int
}

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer implements domain.EventPublisher. Events are keyed by
// resource so every event about one asset or pool lands on the same
// partition, in order.
type KafkaProducer struct {
	writer messageWriter
}

// NewKafkaProducer creates a producer writing to cfg.Topic.
func NewKafkaProducer(cfg KafkaConfig) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
	}
	if cfg.BatchSize > 0 {
		w.BatchSize = cfg.BatchSize
	}
	if cfg.BatchTimeout > 0 {
		w.BatchTimeout = cfg.BatchTimeout
	}
	return &KafkaProducer{writer: w}
}

// Publish implements domain.EventPublisher.
func (p *KafkaProducer) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("kafka: encode event %s: %w", evt.Kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.Resource),
		Value: data,
		Time:  evt.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(evt.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", evt.Kind, err)
	}
	return nil
}

// Close flushes pending messages and closes the producer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// Compile-time interface check.
var _ domain.EventPublisher = (*KafkaProducer)(nil)
