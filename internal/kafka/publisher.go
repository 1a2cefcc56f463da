package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
)

// Publisher bridges derived transition events to a broker so push-style
// consumers can subscribe downstream without polling this engine.
type Publisher interface {
	PublishTransition(ctx context.Context, ev domain.TransitionEvent) error
	Close() error
}

type publisher struct {
	writer *kafka.Writer
	topic  string
}

// NewPublisher creates a Kafka publisher for transition events. Messages are
// keyed by job id so all transitions of one job land on one partition, in
// order.
func NewPublisher(brokers []string, topic string) Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // key routing → per-job ordering
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		// Auto-create the topic if it doesn't exist
		AllowAutoTopicCreation: true,
	}
	return &publisher{writer: w, topic: topic}
}

func (p *publisher) PublishTransition(ctx context.Context, ev domain.TransitionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal transition for job %s: %w", ev.JobID, err)
	}

	// Inject the active trace context into message headers so downstream
	// consumers can continue the trace.
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(ev.JobID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    ev.ObservedAt,
	})
	if err != nil {
		return fmt.Errorf("kafka publish transition to %s: %w", p.topic, err)
	}
	return nil
}

func (p *publisher) Close() error {
	return p.writer.Close()
}
