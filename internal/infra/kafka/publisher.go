// Package kafka publishes queue lifecycle events to a Kafka topic for
// settlement and audit consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("kafka")

// Config holds the producer settings.
type Config struct {
	Brokers []string
	Topic   string
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per event, keyed so that events for the same
// match or item land on the same partition.
type Publisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewPublisher creates an async producer over the configured brokers.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed",
					zap.String("topic", cfg.Topic),
					zap.Int("messages", len(messages)),
					zap.Error(err),
				)
			}
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}

	logger.Info("kafka publisher ready",
		zap.String("brokers", strings.Join(cfg.Brokers, ",")),
		zap.String("topic", cfg.Topic),
	)
	return NewPublisherWithWriter(writer, cfg.Topic, logger), nil
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w MessageWriter, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// Publish encodes the event as JSON. The event type travels as a header so
// consumers can filter without decoding.
func (p *Publisher) Publish(ctx context.Context, event *domain.QueueEvent) error {
	ctx, span := tracer.Start(ctx, "Publisher.Publish")
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return &domain.ErrExternalService{Service: "kafka/" + p.topic, Err: err}
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
