package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"guardian/internal/pipeline"
)

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes alert events to a Kafka topic keyed by camera and event
type KafkaSink struct {
	topic  string
	writer kafkaMessageWriter
}

// NewKafkaSink creates a sink writing to topic on brokers
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireOne,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}
	return newKafkaSink(topic, writer), nil
}

func newKafkaSink(topic string, writer kafkaMessageWriter) *KafkaSink {
	return &KafkaSink{topic: topic, writer: writer}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Deliver writes the alert as JSON
func (s *KafkaSink) Deliver(ctx context.Context, alert *pipeline.AlertEvent) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	msg := kafka.Message{Key: []byte(messageKey(alert)), Value: value}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
