// Package kafka publishes lifecycle events to an Apache Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/engramlabs/engram/pkg/eventstream"
)

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers is the bootstrap broker list ("host:port").
	Brokers []string

	// Topic is the topic lifecycle events are written to.
	Topic string

	// BatchTimeout bounds how long the writer buffers before flushing.
	// Defaults to one second.
	BatchTimeout time.Duration
}

// Publisher writes lifecycle events to Kafka, keyed by item id so events
// for one item stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Kafka-backed lifecycle event publisher.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}

	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: batchTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}, nil
}

// Publish writes one lifecycle event as JSON.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.LifecycleEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling lifecycle event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ItemID),
		Value: payload,
		Time:  event.EmittedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing lifecycle event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
