package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Envelope wraps every verification event on the wire.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type KafkaPublisher struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, now: time.Now}
}

// Publish keys the message so that all events of one owner stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	value, err := json.Marshal(Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: p.now().UTC(),
		Payload:    body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", eventType, err)
	}

	return p.producer.ProduceMessage(ctx, p.topic, []byte(key), value, map[string]string{"event_type": eventType})
}

// Discard drops every event. Used when Kafka is disabled.
type Discard struct{}

func (Discard) Publish(context.Context, string, string, interface{}) error { return nil }
