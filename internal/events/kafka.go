package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 5 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka_writer")
		}),
	}
	logger.Info("kafka publisher initialized", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Publish writes the event keyed by external order id so every change of one
// order lands on the same partition in order.
func (p *KafkaPublisher) Publish(ctx context.Context, ev StatusChanged) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("Publish: marshal: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.ExternalOrderID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	p.logger.Debug("status event published", "topic", p.topic, "external_order_id", ev.ExternalOrderID, "status", ev.Status)
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return nil
}
