package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Producer publishes appointment lifecycle events to Kafka. Messages are
// keyed by appointment id so all events for one appointment land on the same
// partition in order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}
	return &Producer{writer: writer}
}

type envelope struct {
	EventType     string         `json:"eventType"`
	AppointmentID string         `json:"appointmentId"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

func (p *Producer) Publish(ctx context.Context, eventType string, appointmentID uuid.UUID, payload map[string]any) error {
	value, err := json.Marshal(envelope{
		EventType:     eventType,
		AppointmentID: appointmentID.String(),
		Payload:       payload,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(appointmentID.String()),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("produce %s: %w", eventType, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
