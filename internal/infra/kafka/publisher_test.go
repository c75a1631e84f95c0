package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	queuekafka "github.com/boddenberg/p2p-queue-engine/internal/infra/kafka"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_KeysByMatch(t *testing.T) {
	w := &fakeWriter{}
	p := queuekafka.NewPublisherWithWriter(w, "queue-events", zap.NewNop())

	event := &domain.QueueEvent{
		Type:       domain.EventMatched,
		Match:      &domain.Match{ID: "01HX", WithdrawalID: "w1", DepositID: "d1"},
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(w.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "01HX" {
		t.Errorf("expected key 01HX, got %s", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(domain.EventMatched) {
		t.Errorf("expected event-type header, got %+v", msg.Headers)
	}

	var decoded domain.QueueEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Match == nil || decoded.Match.DepositID != "d1" {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestPublisher_WrapsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := queuekafka.NewPublisherWithWriter(w, "queue-events", zap.NewNop())

	err := p.Publish(context.Background(), &domain.QueueEvent{Type: domain.EventSubmitted, ItemID: "i1"})

	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) || ext.Service != "kafka/queue-events" {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Error("expected writer closed")
	}
}

func TestNewPublisher_RequiresConfig(t *testing.T) {
	if _, err := queuekafka.NewPublisher(queuekafka.Config{Topic: "t"}, zap.NewNop()); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := queuekafka.NewPublisher(queuekafka.Config{Brokers: []string{"localhost:9092"}}, zap.NewNop()); err == nil {
		t.Error("expected error without topic")
	}
}
