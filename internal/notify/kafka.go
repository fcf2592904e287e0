package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter publishes through a segmentio/kafka-go writer.
type KafkaWriter struct {
	writer *kafka.Writer
}

func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
	}
}

func (w *KafkaWriter) Publish(ctx context.Context, key, value []byte) error {
	return w.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

func (w *KafkaWriter) Close() error {
	return w.writer.Close()
}
