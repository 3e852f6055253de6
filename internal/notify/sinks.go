package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Broadcaster websocket-хаб.
type Broadcaster interface {
	BroadcastToUser(ctx context.Context, userID uuid.UUID, event string, data any) error
}

// HubSink отправляет событие в открытые websocket-подключения пользователя.
type HubSink struct {
	hub Broadcaster
}

func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "ws" }

func (s *HubSink) Deliver(ctx context.Context, msg Message) error {
	if msg.UserID == uuid.Nil {
		return nil
	}
	return s.hub.BroadcastToUser(ctx, msg.UserID, msg.Event, payload(msg))
}

// NotificationCreator сервис уведомлений внутри приложения.
type NotificationCreator interface {
	CreateNotificationForWS(ctx context.Context, userID uuid.UUID, event string, data interface{}) error
}

// StoreSink сохраняет уведомление в ленте пользователя.
type StoreSink struct {
	store NotificationCreator
}

func NewStoreSink(store NotificationCreator) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, msg Message) error {
	if msg.UserID == uuid.Nil {
		return nil
	}
	return s.store.CreateNotificationForWS(ctx, msg.UserID, msg.Event, payload(msg))
}

// MessageWriter подмножество kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink публикует события леджера в топик. Ключ партиции это пользователь,
// поэтому события одного пользователя упорядочены.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

// NewKafkaSink создаёт канал поверх kafka.Writer.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	if topic == "" {
		topic = "ledger.events"
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka sink: marshal: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.topic,
		Key:   []byte(msg.UserID.String()),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(msg.Event)},
		},
		Time: time.Now().UTC(),
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func payload(msg Message) map[string]any {
	out := map[string]any{
		"subject": msg.Subject,
		"body":    msg.Body,
	}
	for k, v := range msg.Data {
		out[k] = v
	}
	return out
}
