// Package events публикует доменные события заказов в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Envelope - формат сообщения в топике.
type Envelope struct {
	EventID    uuid.UUID       `json:"eventId"`
	EventType  string          `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w   messageWriter
	now func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("messages", len(messages)).Msg("events: failed to deliver messages")
			}
		},
	}
	return newKafkaPublisher(w)
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w, now: time.Now}
}

// Publish ключует сообщение по key, чтобы события одного заказа попадали в одну партицию.
func (p *KafkaPublisher) Publish(ctx context.Context, key, eventType string, payload any) error {
	value, err := encode(eventType, payload, p.now().UTC())
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  p.now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: failed to write %s: %w", eventType, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func encode(eventType string, payload any, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: failed to marshal %s payload: %w", eventType, err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("events: failed to generate event id: %w", err)
	}
	return json.Marshal(Envelope{EventID: id, EventType: eventType, OccurredAt: at, Payload: raw})
}

// LogPublisher используется, когда брокеры не настроены.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, key, eventType string, payload any) error {
	log.Debug().Str("key", key).Str("event_type", eventType).Msg("events: kafka disabled, event dropped")
	return nil
}

func (LogPublisher) Close() error { return nil }
