package publisher

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/model"
)

// KafkaSink mirrors every state event to a Kafka topic for downstream
// analytics consumers. It is optional: wired only when a broker is
// configured. Events are keyed by order id so one order's lifecycle lands in
// one partition, in order.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaSink creates a KafkaSink writing to the given broker and topic.
func NewKafkaSink(broker, topic string, logger *zap.Logger) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   topic,
	})
	return &KafkaSink{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (s *KafkaSink) Name() string { return "kafka" }

// Publish writes the serialized event to the topic.
func (s *KafkaSink) Publish(ctx context.Context, ev model.StateEvent) error {
	payload, err := ev.BroadcastPayload()
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: payload,
	})
}

// Close shuts down the Kafka writer.
func (s *KafkaSink) Close() error { return s.writer.Close() }
